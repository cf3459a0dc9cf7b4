// Package dex selects a quote strategy per protocol family. The switch
// here is the only place family dispatch happens.
package dex

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/aggregator"
	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/dex/solidly"
	"github.com/you/dexarb/internal/dex/univ3"
	"github.com/you/dexarb/internal/dex/v2"
	"github.com/you/dexarb/internal/multicall"
	"github.com/you/dexarb/internal/rpccall"
)

type Deps struct {
	Chain     core.ChainReader
	Multicall multicall.IClient // nil is fine; V3 probes degrade to sequential
	Exec      *rpccall.Executor
	Log       *zap.Logger
}

func StrategyFor(family core.ProtocolFamily, d Deps) (core.Strategy, error) {
	switch family {
	case core.FamilyV2:
		return v2.New(d.Chain, d.Exec, d.Log)
	case core.FamilyV3:
		return univ3.New(d.Chain, d.Multicall, d.Exec, d.Log)
	case core.FamilySolidly:
		return solidly.New(d.Chain, d.Exec, d.Log)
	case core.FamilyAggregator:
		return aggregator.New(d.Chain, d.Exec, d.Log)
	default:
		return nil, fmt.Errorf("unsupported protocol family %q", family)
	}
}
