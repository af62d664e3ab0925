package locate

import (
	"context"
	"fmt"
	"math"
)

// Outcome 一次搜索的结论
type Outcome int

const (
	NotFound Outcome = iota
	// Found 已收敛到目标精度
	Found
	// Exhausted 至少细分过一次，但在迭代预算耗尽或四个子象限都探测失败时停止
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Exhausted:
		return "exhausted"
	default:
		return "not_found"
	}
}

// maxSize 扩张搜索的上限，防止整数溢出
const maxSize = 1 << 26

// SearchConfig 搜索参数
type SearchConfig struct {
	// WorldSize 冷启动时以原点为中心的初始正方形边长
	WorldSize int
	// TargetAccuracy 正方形边长不大于该值时停止
	TargetAccuracy int
	// MaxIterations 外层循环的迭代上限
	MaxIterations int
	// HintScale 有历史位置时，初始边长 = 历史精度 * HintScale
	HintScale int
}

// DefaultSearchConfig 与线上默认值一致
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		WorldSize:      2000,
		TargetAccuracy: 4,
		MaxIterations:  32,
		HintScale:      4,
	}
}

// Validate 检查参数是否可用
func (c SearchConfig) Validate() error {
	if c.TargetAccuracy < 1 {
		return fmt.Errorf("target accuracy must be >= 1, got %d", c.TargetAccuracy)
	}
	if c.WorldSize <= c.TargetAccuracy {
		return fmt.Errorf("world size %d must exceed target accuracy %d", c.WorldSize, c.TargetAccuracy)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.HintScale < 1 {
		return fmt.Errorf("hint scale must be >= 1, got %d", c.HintScale)
	}
	return nil
}

// Result 搜索结果；仅当 Outcome 不为 NotFound 时 Location 有效
type Result struct {
	Outcome  Outcome
	Location Location
	// Probes 本次搜索消耗的探测次数（含维度探测）
	Probes int
}

// OK 是否得到了可发布的位置
func (r Result) OK() bool { return r.Outcome != NotFound }

// quadrants 子象限的探测顺序：西北、东北、东南、西南。多个子象限同时命中时取第一个
var quadrants = [4]Point{
	{X: -1, Z: -1},
	{X: 1, Z: -1},
	{X: 1, Z: 1},
	{X: -1, Z: 1},
}

// Search 在已知维度内对实体做四叉树式二分定位，只依赖 oracle，不涉及进程与计时器。
//
// 父正方形命中但四个子象限都未命中时（边界取整或玩家移动造成），
// 视为在当前精度下搜索耗尽：若此前已细分过则以 Exhausted 返回最近一次成功的中心点。
func Search(ctx context.Context, oracle Oracle, name string, dim Dimension, hint *Location, cfg SearchConfig) (Result, error) {
	res := Result{Outcome: NotFound}
	pivot, size := Point{}, cfg.WorldSize
	if hint != nil && hint.Dimension == dim && hint.Accuracy > 0 {
		pivot = Point{X: hint.X, Z: hint.Z}
		size = hint.Accuracy * cfg.HintScale
		if size <= cfg.TargetAccuracy {
			size = cfg.TargetAccuracy * 2
		}
	}

	refined := false
	for itr := 0; itr < cfg.MaxIterations && size > cfg.TargetAccuracy; itr++ {
		found, err := probe(ctx, oracle, name, dim, squareAt(pivot, float64(size)), &res)
		if err != nil {
			return res, err
		}
		if !found {
			// 玩家已离开当前窗口，扩大窗口重试
			size = min(size*2, maxSize)
			continue
		}

		nextSize := (size + 1) / 2
		moved := false
		for _, d := range quadrants {
			next := Point{
				X: int(math.Round(float64(pivot.X) + float64(size)*0.25*float64(d.X))),
				Z: int(math.Round(float64(pivot.Z) + float64(size)*0.25*float64(d.Z))),
			}
			found, err := probe(ctx, oracle, name, dim, squareAt(next, float64(nextSize)), &res)
			if err != nil {
				return res, err
			}
			if found {
				pivot, size = next, nextSize
				refined, moved = true, true
				break
			}
		}
		if !moved {
			break
		}
	}

	if !refined {
		return res, nil
	}
	res.Location = Location{Dimension: dim, X: pivot.X, Z: pivot.Z, Accuracy: size}
	if size <= cfg.TargetAccuracy {
		res.Outcome = Found
	} else {
		res.Outcome = Exhausted
	}
	return res, nil
}

func probe(ctx context.Context, oracle Oracle, name string, dim Dimension, rect Rect, res *Result) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res.Probes++
	p, err := oracle.InRegion(ctx, name, dim, rect)
	if err != nil {
		return false, err
	}
	return p == Present, nil
}

// squareAt 返回以 c 为中心、边长为 size 的正方形，向外取整到整数格
func squareAt(c Point, size float64) Rect {
	x0 := math.Floor(float64(c.X) - size*0.5)
	z0 := math.Floor(float64(c.Z) - size*0.5)
	x1 := math.Ceil(float64(c.X) + size*0.5)
	z1 := math.Ceil(float64(c.Z) + size*0.5)
	return Rect{X: int(x0), Z: int(z0), Width: int(x1 - x0), Height: int(z1 - z0)}
}
