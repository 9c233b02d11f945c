package events

// Topic constants for domain events emitted by the platform.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderProcessed  = "order.processed"
	TopicProfileUpdated  = "pricing.profile.updated"
	TopicProfileAssigned = "pricing.profile.assigned"
)
