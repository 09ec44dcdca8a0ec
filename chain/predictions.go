package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"agrisense/logger"
	"agrisense/models"
)

// PredictionReader lists PredictionRecorded events for a model.
type PredictionReader struct {
	backend   Backend
	registry  common.Address
	fromBlock uint64
	batchSize uint64
	minBatch  uint64
}

func NewPredictionReader(backend Backend, registry common.Address, fromBlock, batchSize uint64) *PredictionReader {
	if batchSize == 0 {
		batchSize = 5000
	}
	minBatch := uint64(500)
	if batchSize < minBatch {
		minBatch = batchSize
	}
	return &PredictionReader{backend: backend, registry: registry, fromBlock: fromBlock, batchSize: batchSize, minBatch: minBatch}
}

// PredictionsForModel scans from the deployment block to head.
func (p *PredictionReader) PredictionsForModel(ctx context.Context, id models.ModelID) ([]models.Prediction, error) {
	key, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	latest, err := p.backend.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "eth_blockNumber")
	}

	event := PredictionRegistryABI.Events[eventPredictionRecorded]
	var out []models.Prediction
	w := NewWindowWalker(p.fromBlock, latest, p.batchSize, p.minBatch)
	for !w.Done() {
		start, end := w.Window()
		logs, err := p.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{p.registry},
			Topics:    [][]common.Hash{{event.ID}, nil, {common.Hash(key)}},
		})
		if err != nil {
			if IsRangeTooLarge(err) && ctx.Err() == nil && w.Shrink() {
				logger.Logger.Debug("Reducing prediction batch size due to RPC limits",
					zap.Uint64("to_size", w.BatchSize()), zap.Error(err))
				continue
			}
			return nil, errors.Wrapf(err, "eth_getLogs %d-%d", start, end)
		}
		for _, l := range logs {
			if len(l.Topics) < 4 || l.Removed {
				continue
			}
			vals, err := event.Inputs.NonIndexed().Unpack(l.Data)
			if err != nil || len(vals) < 2 {
				logger.Logger.Warn("Skipping undecodable prediction log",
					zap.String("tx", l.TxHash.Hex()), zap.Error(err))
				continue
			}
			pred := models.Prediction{
				ID:        new(big.Int).SetBytes(l.Topics[1].Bytes()).String(),
				ModelID:   models.ModelIDFromBytes(l.Topics[2]),
				Requester: common.BytesToAddress(l.Topics[3].Bytes()).Hex(),
				Block:     l.BlockNumber,
				TxHash:    l.TxHash.Hex(),
				TokenID:   "0",
			}
			pred.CID, _ = vals[0].(string)
			if tok, ok := vals[1].(*big.Int); ok && tok != nil {
				pred.TokenID = tok.String()
			}
			out = append(out, pred)
		}
		w.Advance()
	}
	return out, nil
}
