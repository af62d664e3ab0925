package locate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LocateDimension 依次以最大半径探测每个维度，返回第一个命中的维度。
// 没有配置锚点的维度会被跳过；probes 为实际发出的探测次数。
func LocateDimension(ctx context.Context, oracle Oracle, name string) (dim Dimension, ok bool, probes int, err error) {
	for _, d := range Dimensions {
		p, err := oracle.InDimension(ctx, name, d)
		if err != nil {
			return "", false, probes, fmt.Errorf("locate dimension of %s: %w", name, err)
		}
		if p == Unknown {
			continue
		}
		probes++
		if p == Present {
			return d, true, probes, nil
		}
	}
	return "", false, probes, nil
}

// Searcher 组合维度定位与象限搜索
type Searcher struct {
	oracle Oracle
	cfg    SearchConfig
	log    *zap.SugaredLogger
}

// NewSearcher 创建搜索器；log 为 nil 时不输出日志
func NewSearcher(oracle Oracle, cfg SearchConfig, log *zap.SugaredLogger) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Searcher{oracle: oracle, cfg: cfg, log: log}, nil
}

// Config 返回当前搜索参数
func (s *Searcher) Config() SearchConfig { return s.cfg }

// Locate 先确定维度，再在该维度内做象限搜索。hint 可为 nil
func (s *Searcher) Locate(ctx context.Context, name string, hint *Location) (Result, error) {
	dim, ok, probes, err := LocateDimension(ctx, s.oracle, name)
	if err != nil {
		return Result{Probes: probes}, err
	}
	if !ok {
		s.log.Debugf("player %s not found in any monitored dimension", name)
		return Result{Outcome: NotFound, Probes: probes}, nil
	}
	res, err := Search(ctx, s.oracle, name, dim, hint, s.cfg)
	res.Probes += probes
	if err != nil {
		return res, fmt.Errorf("search %s in %s: %w", name, dim, err)
	}
	s.log.Debugf("player %s: outcome=%s dim=%s x=%d z=%d accuracy=%d probes=%d",
		name, res.Outcome, dim, res.Location.X, res.Location.Z, res.Location.Accuracy, res.Probes)
	return res, nil
}
