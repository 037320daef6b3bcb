package loyalty

const (
	operationAppend    = "append"
	operationEnroll    = "enroll"
	operationAccrue    = "accrue"
	operationRedeem    = "redeem"
	operationAdjust    = "adjust"
	operationRepair    = "repair"
	operationReconcile = "reconcile"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"
	operationStatusDrift    = "drift"

	idempotencyKeyDelimiter = ":"
	welcomeKeyPrefix        = "welcome"

	maxGeneratedCodeAttempts = 5

	defaultMetadataJSON = "{}"

	moneyScale = 2

	minExternalCodeLength   = 4
	maxExternalCodeLength   = 64
	maxDisplayNameLength    = 200
	maxIdempotencyKeyLength = 200

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)
