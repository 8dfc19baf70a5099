package ledger

import (
	"testing"

	"seedlot/testutil"
)

func TestNoBackendImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImport, "decisions run over pre-resolved inputs without storage or network access")
}
