package wheel

import "go.uber.org/zap"

// Drawer wraps a Source and logger to provide logged drawings.
// Every draw is logged at debug level with the uniform value and the outcome
// so a disputed result can be audited from the logs.
type Drawer struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedDrawer creates a Drawer that draws from src and logs to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedDrawer(src Source, logger *zap.Logger) *Drawer {
	return &Drawer{src: src, logger: logger}
}

// Source returns the underlying Source.
func (d *Drawer) Source() Source {
	return d.src
}

// Float64 draws one uniform value from the underlying Source.
func (d *Drawer) Float64() float64 {
	return d.src.Float64()
}

// Select draws one value and selects a winner from pool.
//
// Postcondition: Returns the winner and the uniform value consumed, or an error.
func (d *Drawer) Select(pool Pool) (string, float64, error) {
	uniform := d.src.Float64()
	winner, err := Select(pool, uniform)
	if err != nil {
		return "", uniform, err
	}
	d.logger.Debug("weighted draw",
		zap.Int("pool_size", len(pool)),
		zap.Float64("total_weight", pool.TotalWeight()),
		zap.Float64("uniform", uniform),
		zap.String("winner", winner),
	)
	return winner, uniform, nil
}

// EliminationQueue builds a dropout reveal order from pool.
func (d *Drawer) EliminationQueue(pool Pool) (EliminationQueue, error) {
	q, err := BuildEliminationQueue(pool, d.src)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("elimination queue built",
		zap.Int("pool_size", len(pool)),
		zap.Strings("order", q),
		zap.String("winner", q.Winner()),
	)
	return q, nil
}
