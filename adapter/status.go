package adapter

import (
	"strings"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

// FailedStatus classifies a testFailed event by its message
func FailedStatus(message string) types.TestStatus {
	if message == MessageError {
		return types.TestStatusError
	}
	return types.TestStatusFail
}

// IgnoredStatus classifies a testIgnored event by its message
func IgnoredStatus(message string) types.TestStatus {
	if strings.HasPrefix(message, ExpectedFailurePrefix) {
		return types.TestStatusXFail
	}
	return types.TestStatusSkip
}
