package indicator

import (
	"xsig/internal/application/port"
	"xsig/internal/domain/model"
)

// VolumeSpike 放量 K 线，方向取该 K 线涨跌
type VolumeSpike struct {
	name       string
	multiplier float64
	volumes    *window
}

// NewVolumeSpike 参数: period(20) multiplier(2)
func NewVolumeSpike(name string, p map[string]float64) (port.Indicator, error) {
	n, err := period(p, "period", 20)
	if err != nil {
		return nil, err
	}
	return &VolumeSpike{name: name, multiplier: param(p, "multiplier", 2), volumes: newWindow(n)}, nil
}

func (v *VolumeSpike) Name() string { return v.name }

func (v *VolumeSpike) Ready() bool { return v.volumes.full() }

// Update 结果值为当前成交量 / 此前窗口均量
func (v *VolumeSpike) Update(bar model.Bar) model.IndicatorResult {
	var res model.IndicatorResult
	if v.Ready() {
		if avg := v.volumes.mean(); avg > 0 {
			ratio := bar.Volume / avg
			res.Value = ratio
			if ratio >= v.multiplier && bar.Close != bar.Open {
				dir := model.Bullish
				if bar.Close < bar.Open {
					dir = model.Bearish
				}
				res.Signals = append(res.Signals, model.Signal{
					Type:      string(dir) + "_volume_momentum",
					Direction: dir,
					Strength:  extremity(ratio-v.multiplier, v.multiplier/2),
					Metadata:  map[string]any{"ratio": ratio},
				})
			}
		}
	}
	v.volumes.push(bar.Volume)
	return res
}
