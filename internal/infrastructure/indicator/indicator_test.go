package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

func bars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{Symbol: "XBTUSDTM", Resolution: 15, Start: int64(i+1) * 900_000, Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	return out
}

func hasType(res model.IndicatorResult, typ string) bool {
	for _, s := range res.Signals {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func TestRegistryBuildsIndependentSets(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []string{KindBollinger, KindEMACross, KindRSI, KindVolumeSpike}, r.Kinds())

	a, err := r.NewSet()
	require.NoError(t, err)
	b, err := r.NewSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"rsi", "ema_cross", "bollinger", "volume_spike"}, a.Names())

	for _, bar := range bars(1, 2, 3, 4, 5) {
		a.Update(bar)
	}
	// b 没有收到任何 K 线
	assert.Empty(t, b.Update(bars(10)[0]))
}

func TestRegistryRejectsBadSpecs(t *testing.T) {
	_, err := NewRegistry([]Spec{{Kind: "macd"}}).NewSet()
	assert.ErrorContains(t, err, "unknown indicator kind")

	_, err = NewRegistry([]Spec{{Kind: KindRSI}, {Kind: KindRSI}}).NewSet()
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry([]Spec{{Kind: KindEMACross, Params: map[string]float64{"fast": 30, "slow": 10}}}).NewSet()
	assert.Error(t, err)

	r := NewRegistry([]Spec{{Name: "rsi_fast", Kind: KindRSI, Weight: 25, Params: map[string]float64{"period": 7}}})
	assert.NoError(t, r.Validate())
	assert.Equal(t, map[string]float64{"rsi_fast": 25}, r.Weights())
}

// 同一输入序列重放得到完全相同的输出
func TestSetReplayDeterministic(t *testing.T) {
	r := NewRegistry(nil)
	series := make([]model.Bar, 0, 300)
	price := 100.0
	for i := 0; i < 300; i++ {
		price += math.Sin(float64(i)/7) * 0.8
		vol := 10 + 30*math.Max(0, math.Sin(float64(i)/3))
		series = append(series, model.Bar{Start: int64(i + 1), Open: price - 0.1, High: price + 0.5, Low: price - 0.5, Close: price, Volume: vol})
	}

	run := func() []map[string]model.IndicatorResult {
		set, err := r.NewSet()
		require.NoError(t, err)
		out := make([]map[string]model.IndicatorResult, 0, len(series))
		for _, b := range series {
			out = append(out, set.Update(b))
		}
		require.True(t, set.Ready())
		return out
	}
	assert.Equal(t, run(), run())
}

func TestRSIExtremes(t *testing.T) {
	ind, err := NewRSI("rsi", nil)
	require.NoError(t, err)

	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	var res model.IndicatorResult
	for _, b := range bars(closes...) {
		res = ind.Update(b)
	}
	require.True(t, ind.Ready())
	assert.Equal(t, 100.0, res.Value)
	assert.True(t, hasType(res, "rsi_overbought"))
	assert.Equal(t, model.Bearish, res.Signals[0].Direction)

	ind, _ = NewRSI("rsi", map[string]float64{"period": 4})
	for _, b := range bars(10, 11, 10, 11, 10, 11, 10, 11, 10) {
		res = ind.Update(b)
	}
	assert.InDelta(t, 50, res.Value, 15)
	assert.Empty(t, res.Signals)
}

func TestEMACrossover(t *testing.T) {
	ind, err := NewEMACross("ema", map[string]float64{"fast": 3, "slow": 6})
	require.NoError(t, err)

	closes := []float64{110, 109, 108, 107, 106, 105, 104, 103, 102, 101}
	for i := 0; i < 8; i++ {
		closes = append(closes, 102+float64(i)*2)
	}

	crossovers := 0
	for _, b := range bars(closes...) {
		res := ind.Update(b)
		if hasType(res, "bullish_crossover") {
			crossovers++
		}
	}
	assert.Equal(t, 1, crossovers)
	assert.Greater(t, ind.Update(bars(120)[0]).Value, 0.0)
}

func TestBollingerLowerBand(t *testing.T) {
	ind, err := NewBollinger("bb", nil)
	require.NoError(t, err)

	closes := make([]float64, 19)
	for i := range closes {
		closes[i] = 100
	}
	for _, b := range bars(closes...) {
		assert.Empty(t, ind.Update(b).Signals)
	}
	res := ind.Update(bars(90)[0])
	require.True(t, ind.Ready())
	assert.Less(t, res.Value, 0.0)
	assert.True(t, hasType(res, "lower_band_touch"))
}

func TestVolumeSpike(t *testing.T) {
	ind, err := NewVolumeSpike("vol", map[string]float64{"period": 5, "multiplier": 2})
	require.NoError(t, err)

	for _, b := range bars(100, 100, 100, 100, 100) {
		ind.Update(b)
	}
	res := ind.Update(model.Bar{Start: 6, Open: 100, High: 100, Low: 95, Close: 96, Volume: 50})
	assert.InDelta(t, 5, res.Value, 1e-9)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "bearish_volume_momentum", res.Signals[0].Type)
	assert.Equal(t, model.Bearish, res.Signals[0].Direction)
}
