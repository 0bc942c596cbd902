package messaging

// Default topic names for the usage-event pipeline.
const (
	TopicEventsRaw              = "events_raw"                // Inbound usage events
	TopicEventsEnriched         = "events_enriched"           // Events with a computed value
	TopicEventsDeadLetter       = "events_dead_letter"        // Undecodable or unbillable events
	TopicEventsChargedInAdvance = "events_charged_in_advance" // Events pre-flagged for pay-in-advance pricing
)

// Subjects on the task queue.
const (
	SubjectPayInAdvanceFees = "billing.fees.pay_in_advance" // Fee computation tasks
)

// Header keys attached to dead-lettered messages.
const (
	HeaderDeadLetterReason  = "x-dead-letter-reason"
	HeaderDeadLetterError   = "x-dead-letter-error"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderDeadLetteredAt    = "x-dead-lettered-at"
)

// Consumer group names. Workers in the same group share partitions.
const (
	GroupEventsProcessor  = "events-processor"
	GroupChargedInAdvance = "events-charged-in-advance"
)
