package system_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flo-mic/eos-upgrade/internal/system"
	"github.com/flo-mic/eos-upgrade/internal/system/systemtest"
)

func TestStopUnits_SingleCall(t *testing.T) {
	r := systemtest.NewFakeRunner()
	require.NoError(t, system.StopUnits(context.Background(), r, "eos-autoupdater.timer", "eos-autoupdater.service"))
	assert.Equal(t, []string{"systemctl stop eos-autoupdater.timer eos-autoupdater.service"}, r.Commands())
}

func TestStopUnits_NoUnitsIsNoop(t *testing.T) {
	r := systemtest.NewFakeRunner()
	require.NoError(t, system.StopUnits(context.Background(), r))
	assert.Empty(t, r.Calls)
}

func TestRestartUnits_StopsAtFirstFailure(t *testing.T) {
	r := systemtest.NewFakeRunner()
	r.Errors["systemctl restart cups"] = errors.New("boom")

	err := system.RestartUnits(context.Background(), r, "cups", "eos-updater")
	require.Error(t, err)
	assert.Equal(t, []string{"systemctl restart cups"}, r.Commands())
}
