package redis

// Key prefixes for primary entity storage.
const (
	prefixRule     = "hookpipe:rule:"
	prefixEvent    = "hookpipe:evt:"
	prefixAttempt  = "hookpipe:att:"
	prefixDLQ      = "hookpipe:dlq:"
	prefixSchedule = "hookpipe:sch:"
	prefixLookup   = "hookpipe:lt:"
	prefixDedup    = "hookpipe:dedup:"
	prefixCkpt     = "hookpipe:ckpt:"
)

// Counter for monotonic event source IDs.
const keyEventSeq = "hookpipe:seq:evt"

// Key prefixes for unique indexes.
const (
	uniqueAttemptPairing  = "hookpipe:u:att:" // + ruleID:tenantID:sourceID
	uniqueSchedulePairing = "hookpipe:u:sch:" // + ruleID:tenantID:sourceID
)

// Key prefixes for sorted set indexes.
const (
	zRuleAll     = "hookpipe:z:rule:all"
	zEventAll    = "hookpipe:z:evt:all"
	zAttemptAll  = "hookpipe:z:att:all"
	zAttemptDue  = "hookpipe:z:att:due"
	zAttemptRule = "hookpipe:z:att:rule:" // + rule ID
	zDLQAll      = "hookpipe:z:dlq:all"
	zScheduleAll = "hookpipe:z:sch:all"
	zScheduleDue = "hookpipe:z:sch:due"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// dedupKey returns the processed-marker key for a tenant-scoped source ID.
func dedupKey(tenantID string, sourceID int64) string {
	return prefixDedup + tenantID + ":" + formatInt(sourceID)
}

// lookupKey returns the primary key for a tenant-scoped lookup table.
func lookupKey(tenantID, name string) string {
	return prefixLookup + tenantID + ":" + name
}
