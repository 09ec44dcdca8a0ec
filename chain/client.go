package chain

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"agrisense/logger"
	"agrisense/models"
)

// Backend is the subset of ethclient.Client the read side needs.
type Backend interface {
	bind.ContractCaller
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// ModelEvent is one ModelRegistered log.
type ModelEvent struct {
	ID     models.ModelID
	Block  uint64
	TxHash string
}

// Client reads the model registry through a single JSON-RPC endpoint.
type Client struct {
	url      string
	backend  Backend
	closer   func()
	registry common.Address
	contract *bind.BoundContract

	// set once getModel has failed and the mapping getter answered
	mappingGetter atomic.Bool
}

// NewClient wraps an already connected backend.
func NewClient(backend Backend, url string, registry common.Address) *Client {
	return &Client{
		url:      url,
		backend:  backend,
		registry: registry,
		contract: bind.NewBoundContract(registry, ModelRegistryABI, backend, nil, backend),
	}
}

// Dial connects to the first url that answers eth_blockNumber.
func Dial(ctx context.Context, urls []string, registry common.Address) (*Client, error) {
	for _, url := range urls {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			logger.Logger.Warn("Read RPC dial failed", zap.String("url", url), zap.Error(err))
			continue
		}
		block, err := ec.BlockNumber(ctx)
		if err != nil {
			logger.Logger.Warn("Read RPC failed", zap.String("url", url), zap.Error(err))
			ec.Close()
			continue
		}
		logger.Logger.Info("Read RPC OK", zap.String("url", url), zap.Uint64("block", block))
		c := NewClient(ec, url, registry)
		c.closer = ec.Close
		return c, nil
	}
	return nil, errors.Wrapf(ErrNoEndpoint, "tried %d urls", len(urls))
}

func (c *Client) URL() string { return c.url }

func (c *Client) Backend() Backend { return c.backend }

func (c *Client) Registry() common.Address { return c.registry }

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	return n, errors.Wrap(err, "eth_blockNumber")
}

// FilterModelRegistered returns the ModelRegistered logs in [from, to].
// Provider range-limit errors are returned wrapped; see IsRangeTooLarge.
func (c *Client) FilterModelRegistered(ctx context.Context, from, to uint64) ([]ModelEvent, error) {
	logs, err := c.backend.FilterLogs(ctx, c.modelQuery(from, &to))
	if err != nil {
		return nil, errors.Wrapf(err, "eth_getLogs %d-%d", from, to)
	}
	out := make([]ModelEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 || l.Removed {
			continue
		}
		out = append(out, ModelEvent{
			ID:     models.ModelIDFromBytes(l.Topics[1]),
			Block:  l.BlockNumber,
			TxHash: l.TxHash.Hex(),
		})
	}
	return out, nil
}

func (c *Client) modelQuery(from uint64, to *uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{c.registry},
		Topics:    [][]common.Hash{{ModelRegistryABI.Events[eventModelRegistered].ID}},
	}
	if to != nil {
		q.ToBlock = new(big.Int).SetUint64(*to)
	}
	return q
}

// GetModel resolves id through the registry accessor. A zero provider
// means the id was never registered.
func (c *Client) GetModel(ctx context.Context, id models.ModelID) (*models.ModelRecord, error) {
	key, err := id.Bytes32()
	if err != nil {
		return nil, err
	}
	method := methodGetModel
	if c.mappingGetter.Load() {
		method = methodModels
	}
	out, err := c.call(ctx, method, key)
	if err != nil && method == methodGetModel && ctx.Err() == nil {
		// registries deployed without getModel still expose the mapping
		alt, altErr := c.call(ctx, methodModels, key)
		if altErr != nil {
			return nil, errors.Wrapf(err, "%s(%s)", method, id)
		}
		logger.Logger.Info("getModel unavailable, reading the models mapping instead",
			zap.String("registry", c.registry.Hex()), zap.Error(err))
		c.mappingGetter.Store(true)
		out, err, method = alt, nil, methodModels
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s(%s)", method, id)
	}
	if len(out) < 5 {
		return nil, errors.Errorf("%s(%s): expected 5 outputs, got %d", method, id, len(out))
	}

	provider, _ := out[0].(common.Address)
	if provider == (common.Address{}) {
		return nil, errors.Wrapf(ErrModelNotFound, "%s", id)
	}
	rec := &models.ModelRecord{
		ID:       models.ModelIDFromBytes(key),
		Provider: provider.Hex(),
		Price:    "0",
	}
	rec.CID, _ = out[1].(string)
	if price, ok := out[2].(*big.Int); ok && price != nil {
		rec.Price = price.String()
	}
	rec.Active, _ = out[3].(bool)
	category, _ := out[4].(string)
	rec.Category = models.Category(category)
	rec.Normalize()
	return rec, nil
}

func (c *Client) call(ctx context.Context, method string, key [32]byte) ([]interface{}, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, key)
	return out, err
}
