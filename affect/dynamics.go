package affect

import "math"

const (
	// gamma 负面冲击对烦躁值的权重
	gamma = 1.0
	// eta 负效价对烦躁值的持续贡献
	eta = 0.5
	// inertia 接受度计算中的情绪惯性
	inertia = 1.5

	recoverValence  = -0.3
	recoverArousal  = 0.1
	meltdownScale   = 1000.0
	meltdownExitVal = -0.3
)

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Impact 情绪冲击强度 (intensity/8.1)^1.1
func Impact(intensity float64) float64 {
	if intensity <= 0 {
		return 0
	}
	return math.Pow(intensity/8.1, 1.1)
}

// Acceptance 情绪接受度 σ(e·(impact − 1.5·|v|))，当前情绪越强越抗拒变化
func Acceptance(valence, impact float64) float64 {
	x := impact - math.Abs(valence)*inertia
	return 1 / (1 + math.Exp(-math.E*x))
}

// Permission 唤醒度许可因子 (1 − |a − 0.5|)^1.5，两端抑制变化
func Permission(arousal float64) float64 {
	return math.Max(0, math.Pow(1-math.Abs(arousal-0.5), 1.5))
}

// negValence 负效价的绝对值，非负效价为 0
func negValence(v float64) float64 {
	if v < 0 {
		return -v
	}
	return 0
}

// Pull 按情绪档案矩阵计算效价对唤醒度的牵引
func Pull(matrix [][3]float64, valence, arousalImpact float64) float64 {
	if arousalImpact > 2.5 {
		if valence > 0.8 {
			return 0.05
		}
		return 0
	}
	for _, row := range matrix {
		lower, upper, pull := row[0], row[1], row[2]
		if lower == -1 && valence <= upper {
			return pull
		}
		if lower < valence && valence <= upper {
			return pull
		}
		if upper == 1 && valence > lower {
			return pull
		}
	}
	return 0
}

// meltdownDecay 爆发期衰减值 1000/(x²+1000)，x = 经过分钟 × 时间倍率
func meltdownDecay(elapsedMinutes, timeScale float64) float64 {
	x := elapsedMinutes * timeScale
	return meltdownScale / (x*x + meltdownScale)
}

// meltdownCrossMinutes 衰减到 V = -0.3 所需的分钟数；timeScale ≤ 0 时永不到达
func meltdownCrossMinutes(timeScale float64) float64 {
	if timeScale <= 0 {
		return math.Inf(1)
	}
	x := math.Sqrt(meltdownScale/-meltdownExitVal - meltdownScale)
	return x / timeScale
}
