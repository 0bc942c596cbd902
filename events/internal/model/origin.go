package model

// EventOrigin is the ingestion path an event came through.
type EventOrigin int

const (
	// OriginOther covers every source that did not price pay-in-advance charges.
	OriginOther EventOrigin = iota
	// OriginHTTP is the synchronous API path, which already computed
	// pay-in-advance fees before publishing the event.
	OriginHTTP
	// OriginPrePriced marks events that arrived on the charged-in-advance
	// topic and are dispatched by the pre-flagged consumer.
	OriginPrePriced
)

// Source tags carried on the wire.
const (
	SourceHTTP      = "http_ruby"
	SourcePrePriced = "charged_in_advance"
)

// ParseOrigin maps a wire source tag to an EventOrigin.
func ParseOrigin(source string) EventOrigin {
	switch source {
	case SourceHTTP:
		return OriginHTTP
	case SourcePrePriced:
		return OriginPrePriced
	default:
		return OriginOther
	}
}

// NeedsPayInAdvanceDispatch reports whether the main pipeline must dispatch
// fee computation for events of this origin.
func (o EventOrigin) NeedsPayInAdvanceDispatch() bool {
	switch o {
	case OriginHTTP, OriginPrePriced:
		return false
	case OriginOther:
		return true
	default:
		return true
	}
}

func (o EventOrigin) String() string {
	switch o {
	case OriginHTTP:
		return "http"
	case OriginPrePriced:
		return "pre_priced"
	default:
		return "other"
	}
}
