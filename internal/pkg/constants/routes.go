package constants

// Static route constants
const (
	PingRoute = "/ping"
	APIRoute  = "/api"
	// Billing-provider webhook ingress
	WebhookRoute = "/webhooks/revenuecat"
	CreditsRoute = "/credits"
)
