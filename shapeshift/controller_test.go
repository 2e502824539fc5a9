package shapeshift_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/shapeshift"
)

func TestRotateChangesProtocol(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{Strategy: shapeshift.StrategyRandom}, []string{"https", "dns", "mysql"}, nil)
	require.NoError(t, err)

	before := c.CurrentProtocol()
	require.NoError(t, c.Rotate())
	after := c.CurrentProtocol()
	require.NotEqual(t, before, after)
	require.EqualValues(t, 1, c.Stats().TotalSwitches)
}

func TestRotateRefusedDuringHandshake(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{Strategy: shapeshift.StrategyRandom}, []string{"https", "dns"}, nil)
	require.NoError(t, err)

	c.BeginHandshake()
	err = c.Rotate()
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindInvalidState))
	require.EqualValues(t, 0, c.Stats().TotalSwitches)
}

func TestSetProtocolUnknownID(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{Strategy: shapeshift.StrategyFixed, InitialProtocol: "https"}, []string{"https", "dns"}, nil)
	require.NoError(t, err)

	err = c.SetProtocol("ssh")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindProtocolNotFound))
}

func TestSetProtocolInvokesSwitchFunc(t *testing.T) {
	var switched string
	c, err := shapeshift.New(shapeshift.Config{Strategy: shapeshift.StrategyFixed, InitialProtocol: "https"}, []string{"https", "dns"}, func(id string) error {
		switched = id
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.SetProtocol("dns"))
	require.Equal(t, "dns", switched)
	require.Equal(t, "dns", c.CurrentProtocol())
}

func TestSwitchFuncFailureKeepsCurrentProtocol(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{Strategy: shapeshift.StrategyFixed, InitialProtocol: "https"}, []string{"https", "dns"}, func(id string) error {
		return errors.Io(nil)
	})
	require.NoError(t, err)

	err = c.SetProtocol("dns")
	require.Error(t, err)
	require.Equal(t, "https", c.CurrentProtocol())
	require.Contains(t, c.Stats().LastError, "io error")
}

func TestTimeBasedRotation(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{
		Strategy: shapeshift.StrategyTimeBased,
		Period:   10 * time.Millisecond,
	}, []string{"https", "dns"}, nil)
	require.NoError(t, err)

	rotated, err := c.MaybeRotate()
	require.NoError(t, err)
	require.False(t, rotated)

	time.Sleep(15 * time.Millisecond)
	rotated, err = c.MaybeRotate()
	require.NoError(t, err)
	require.True(t, rotated)
}

func TestTrafficBasedRotation(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{
		Strategy:      shapeshift.StrategyTrafficBased,
		ByteThreshold: 100,
	}, []string{"https", "dns"}, nil)
	require.NoError(t, err)

	c.RecordTraffic(50)
	rotated, err := c.MaybeRotate()
	require.NoError(t, err)
	require.False(t, rotated)

	c.RecordTraffic(60)
	rotated, err = c.MaybeRotate()
	require.NoError(t, err)
	require.True(t, rotated)
}

func TestAdaptiveRotationOnDegradedHealth(t *testing.T) {
	c, err := shapeshift.New(shapeshift.Config{
		Strategy:           shapeshift.StrategyAdaptive,
		InitialProtocol:    "https",
		ErrorRateThreshold: 0.5,
	}, []string{"https", "dns"}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.RecordResult("https", false, time.Millisecond)
	}

	rotated, err := c.MaybeRotate()
	require.NoError(t, err)
	require.True(t, rotated)
	require.Equal(t, "dns", c.CurrentProtocol())
}
