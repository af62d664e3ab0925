package locate

import (
	"context"
	"fmt"
)

// Dimension 世界中的逻辑空间（主世界、下界、末地）
type Dimension string

const (
	Overworld Dimension = "overworld"
	Nether    Dimension = "nether"
	TheEnd    Dimension = "the_end"
)

// Dimensions 按探测顺序排列的全部维度
var Dimensions = []Dimension{Overworld, Nether, TheEnd}

// ParseDimension 将配置中的名称解析为 Dimension
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// Point 水平坐标（忽略 Y 轴，区域为无限高的柱体）
type Point struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Rect 以最小角为锚点的轴对齐矩形
type Rect struct {
	X      int `json:"x"`
	Z      int `json:"z"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains 判断点是否落在矩形内（边界包含在内）
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Z >= r.Z && p.Z <= r.Z+r.Height
}

// Location 搜索结果；Accuracy 为包含玩家的最小正方形边长，越小越精确
type Location struct {
	Dimension Dimension `json:"dimension"`
	X         int       `json:"x"`
	Z         int       `json:"z"`
	Accuracy  int       `json:"accuracy"`
}

// Player 玩家名及其最后已知位置
type Player struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
}

// Presence 区域探测的三态结果
type Presence int

const (
	// Unknown 该维度没有配置锚点实体，无法探测
	Unknown Presence = iota
	Absent
	Present
)

func (p Presence) String() string {
	switch p {
	case Absent:
		return "absent"
	case Present:
		return "present"
	default:
		return "unknown"
	}
}

// Executor 向控制台提交一条命令并返回其输出
type Executor interface {
	Exec(ctx context.Context, command string) (string, error)
}

// Oracle 回答“实体是否在某区域内”的布尔探测
type Oracle interface {
	// InRegion 探测实体是否在 dim 中 rect 的水平范围内（垂直方向不限）
	InRegion(ctx context.Context, name string, dim Dimension, rect Rect) (Presence, error)
	// InDimension 以最大半径探测实体是否在 dim 中
	InDimension(ctx context.Context, name string, dim Dimension) (Presence, error)
}
