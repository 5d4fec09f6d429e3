package outbox

const sessionClosedSchema = `{
  "type": "object",
  "title": "SessionClosed",
  "properties": {
    "session_id": {"type": "string"},
    "guild_id": {"type": "string"},
    "user_id": {"type": "string"},
    "username": {"type": "string"},
    "activity": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "minutes": {"type": "integer"}
  },
  "required": ["session_id", "guild_id", "user_id", "username", "activity", "started_at", "ended_at", "minutes"],
  "additionalProperties": false
}`

const roleAssignedSchema = `{
  "type": "object",
  "title": "RoleAssigned",
  "properties": {
    "guild_id": {"type": "string"},
    "user_id": {"type": "string"},
    "username": {"type": "string"},
    "style": {"type": "string"},
    "tier": {"type": "integer"},
    "prev_style": {"type": "string"},
    "prev_tier": {"type": "integer"},
    "week_id": {"type": "string"},
    "total_minutes": {"type": "integer"},
    "assigned_at": {"type": "string", "format": "date-time"}
  },
  "required": ["guild_id", "user_id", "username", "style", "tier", "week_id", "total_minutes", "assigned_at"],
  "additionalProperties": false
}`
