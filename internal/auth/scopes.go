package auth

// Known OAuth scopes used by the API.
const (
	ScopeProgressSubmit = "progress:submit"
	ScopeProgressRead   = "progress:read"
	ScopeProgressReview = "progress:review"
)
