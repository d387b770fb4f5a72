package validation

const uuidRegex = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

const tradeEnum = `["plumbing","electrical","carpentry","painting","roofing","hvac","landscaping","cleaning","masonry","general"]`

// Request schemas for the HTTP API. Services validate decoded request structs against them.
var (
	RegisterSchema = MustCompile("register", `{
		"type": "object",
		"required": ["email", "password", "fullName", "role"],
		"properties": {
			"email":    {"type": "string", "format": "email", "maxLength": 254},
			"password": {"type": "string", "minLength": 1, "maxLength": 128},
			"fullName": {"type": "string", "minLength": 2, "maxLength": 100},
			"role":     {"type": "string", "enum": ["hirer", "worker"]},
			"phone":    {"type": "string", "maxLength": 32}
		}
	}`)

	LoginSchema = MustCompile("login", `{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email":    {"type": "string", "minLength": 3, "maxLength": 254},
			"password": {"type": "string", "minLength": 1, "maxLength": 128}
		}
	}`)

	ProfileUpdateSchema = MustCompile("profile-update", `{
		"type": "object",
		"properties": {
			"fullName":        {"type": "string", "minLength": 2, "maxLength": 100},
			"phone":           {"type": "string", "maxLength": 32},
			"trade":           {"type": "string", "enum": `+tradeEnum+`},
			"skills":          {"type": "array", "maxItems": 20, "items": {"type": "string", "minLength": 1, "maxLength": 50}},
			"location":        {"type": "string", "maxLength": 120},
			"hourlyRateCents": {"type": "integer", "minimum": 0},
			"bio":             {"type": "string", "maxLength": 2000}
		}
	}`)

	JobCreateSchema = MustCompile("job-create", `{
		"type": "object",
		"required": ["title", "description", "trade", "location", "budgetMinCents", "budgetMaxCents"],
		"properties": {
			"title":          {"type": "string", "minLength": 5, "maxLength": 120},
			"description":    {"type": "string", "minLength": 20, "maxLength": 5000},
			"trade":          {"type": "string", "enum": `+tradeEnum+`},
			"location":       {"type": "string", "minLength": 2, "maxLength": 120},
			"budgetMinCents": {"type": "integer", "minimum": 0},
			"budgetMaxCents": {"type": "integer", "minimum": 0},
			"startsAt":       {"type": ["string", "null"], "format": "date-time"}
		}
	}`)

	JobUpdateSchema = MustCompile("job-update", `{
		"type": "object",
		"properties": {
			"title":          {"type": "string", "minLength": 5, "maxLength": 120},
			"description":    {"type": "string", "minLength": 20, "maxLength": 5000},
			"trade":          {"type": "string", "enum": `+tradeEnum+`},
			"location":       {"type": "string", "minLength": 2, "maxLength": 120},
			"budgetMinCents": {"type": "integer", "minimum": 0},
			"budgetMaxCents": {"type": "integer", "minimum": 0}
		}
	}`)

	ApplicationCreateSchema = MustCompile("application-create", `{
		"type": "object",
		"required": ["jobId", "proposedAmountCents"],
		"properties": {
			"jobId":               {"type": "string", "pattern": "`+uuidRegex+`"},
			"coverLetter":         {"type": "string", "maxLength": 2000},
			"proposedAmountCents": {"type": "integer", "minimum": 1}
		}
	}`)

	ConversationCreateSchema = MustCompile("conversation-create", `{
		"type": "object",
		"required": ["participantId"],
		"properties": {
			"participantId": {"type": "string", "pattern": "`+uuidRegex+`"},
			"jobId":         {"type": ["string", "null"], "pattern": "`+uuidRegex+`"}
		}
	}`)

	MessageSendSchema = MustCompile("message-send", `{
		"type": "object",
		"required": ["body"],
		"properties": {
			"body": {"type": "string", "minLength": 1, "maxLength": 4000}
		}
	}`)

	PaymentIntentCreateSchema = MustCompile("payment-intent-create", `{
		"type": "object",
		"required": ["jobId"],
		"properties": {
			"jobId":       {"type": "string", "pattern": "`+uuidRegex+`"},
			"amountCents": {"type": "integer", "minimum": 1}
		}
	}`)

	ReviewCreateSchema = MustCompile("review-create", `{
		"type": "object",
		"required": ["jobId", "rating"],
		"properties": {
			"jobId":   {"type": "string", "pattern": "`+uuidRegex+`"},
			"rating":  {"type": "integer", "minimum": 1, "maximum": 5},
			"comment": {"type": "string", "maxLength": 2000}
		}
	}`)

	SuspendSchema = MustCompile("suspend", `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 3, "maxLength": 500}
		}
	}`)
)
