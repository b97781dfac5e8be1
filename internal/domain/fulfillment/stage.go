package fulfillment

// StageKey names a CRM pipeline stage. Stage IDs are resolved from
// configuration; the mapping from phase to stage is fixed.
type StageKey string

const (
	StageSent             StageKey = "sent"
	StageDeliveredToPoint StageKey = "delivered-to-point"
	StageRealized         StageKey = "realized"
)

var stageTable = map[Phase]StageKey{
	PhaseInTransit:      StageSent,
	PhaseReadyForPickup: StageDeliveredToPoint,
	PhaseDelivered:      StageRealized,
}

// StageFor returns the CRM stage an order moves to on entering phase p.
func StageFor(p Phase) (StageKey, bool) {
	stage, ok := stageTable[p]
	return stage, ok
}

// StageIDs resolves stage keys to CRM status identifiers.
type StageIDs map[StageKey]int64

// Lookup returns the configured stage id for key. Zero or missing ids are
// reported as absent.
func (ids StageIDs) Lookup(key StageKey) (int64, bool) {
	id, ok := ids[key]
	return id, ok && id > 0
}
