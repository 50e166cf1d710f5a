package outbox

const submissionCreatedSchema = `{
  "type": "object",
  "title": "SubmissionCreated",
  "properties": {
    "submission_id": {"type": "string"},
    "user_id": {"type": "string"},
    "category": {"type": "string"},
    "description": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["submission_id", "user_id", "category", "description", "created_at"],
  "additionalProperties": false
}`

const submissionReviewedSchema = `{
  "type": "object",
  "title": "SubmissionReviewed",
  "properties": {
    "submission_id": {"type": "string"},
    "user_id": {"type": "string"},
    "category": {"type": "string"},
    "decision": {"type": "string"},
    "reviewer_id": {"type": "string"},
    "feedback": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["submission_id", "user_id", "category", "decision", "reviewer_id", "occurred_at"],
  "additionalProperties": false
}`

const achievementUnlockedSchema = `{
  "type": "object",
  "title": "AchievementUnlocked",
  "properties": {
    "user_id": {"type": "string"},
    "tier": {"type": "string"},
    "threshold": {"type": "integer"},
    "unlocked_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "tier", "threshold", "unlocked_at"],
  "additionalProperties": false
}`
