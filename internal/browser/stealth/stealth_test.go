// internal/browser/stealth/stealth_test.go
package stealth

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
)

func TestApplyComposesHardeningTasks(t *testing.T) {
	action := Apply(schemas.DefaultPersona, zap.NewNop())
	require.NotNil(t, action)

	tasks, ok := action.(chromedp.Tasks)
	require.True(t, ok, "Apply should compose sequential chromedp tasks")
	// network enable, headers, UA override, device metrics, evasion script,
	// lifecycle state, completion log.
	assert.Len(t, tasks, 7)
}

func TestEvasionScriptEmbedded(t *testing.T) {
	assert.NotEmpty(t, evasionsScript)
	assert.Contains(t, evasionsScript, "webdriver")
	assert.Contains(t, evasionsScript, "BROWSERGATE_PERSONA")
}
