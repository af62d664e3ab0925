package locate

import (
	"context"
	"fmt"
	"strings"
)

const (
	// VerticalSpan 区域探测的垂直高度，覆盖整个可建造高度
	VerticalSpan = 2000
	// DimensionRadius 维度探测使用的半径，相当于“该维度任意位置”
	DimensionRadius = 99999
)

// CommandOracle 通过锚点实体执行 testfor 命令实现 Oracle
type CommandOracle struct {
	exec    Executor
	anchors map[Dimension]string
}

// NewCommandOracle 创建基于控制台命令的探测器；anchors 为维度到锚点实体名的映射
func NewCommandOracle(exec Executor, anchors map[Dimension]string) *CommandOracle {
	cp := make(map[Dimension]string, len(anchors))
	for d, a := range anchors {
		if a != "" {
			cp[d] = a
		}
	}
	return &CommandOracle{exec: exec, anchors: cp}
}

// Anchor 返回维度的锚点实体名
func (o *CommandOracle) Anchor(dim Dimension) (string, bool) {
	a, ok := o.anchors[dim]
	return a, ok
}

// InRegion 实现 Oracle
func (o *CommandOracle) InRegion(ctx context.Context, name string, dim Dimension, rect Rect) (Presence, error) {
	anchor, ok := o.anchors[dim]
	if !ok {
		return Unknown, nil
	}
	return o.probe(ctx, name, RegionCommand(anchor, name, rect))
}

// InDimension 实现 Oracle
func (o *CommandOracle) InDimension(ctx context.Context, name string, dim Dimension) (Presence, error) {
	anchor, ok := o.anchors[dim]
	if !ok {
		return Unknown, nil
	}
	return o.probe(ctx, name, RadiusCommand(anchor, name, DimensionRadius))
}

func (o *CommandOracle) probe(ctx context.Context, name, command string) (Presence, error) {
	out, err := o.exec.Exec(ctx, command)
	if err != nil {
		return Unknown, fmt.Errorf("probe %s: %w", name, err)
	}
	if IsFound(out, name) {
		return Present, nil
	}
	return Absent, nil
}

// RegionCommand 生成在锚点处执行的矩形区域 testfor 命令
func RegionCommand(anchor, name string, rect Rect) string {
	return fmt.Sprintf("execute @e[name=%s] ^ ^ ^ testfor @a[name=%s,x=%d,y=0,z=%d,dx=%d,dy=%d,dz=%d]",
		Selector(anchor), Selector(name), rect.X, rect.Z, rect.Width, VerticalSpan, rect.Height)
}

// RadiusCommand 生成以原点为中心、半径为 r 的 testfor 命令
func RadiusCommand(anchor, name string, r int) string {
	return fmt.Sprintf("execute @e[name=%s] ^ ^ ^ testfor @a[name=%s,x=0,y=0,z=0,r=%d]",
		Selector(anchor), Selector(name), r)
}

// IsFound 判断 testfor 的输出是否为肯定回答
func IsFound(out, name string) bool {
	return strings.HasPrefix(out, "Found "+name)
}

// Selector 在选择器参数中引用实体名；包含空格的名字需要加引号
func Selector(name string) string {
	if strings.ContainsAny(name, " ,=]") {
		return `"` + name + `"`
	}
	return name
}
