package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const modelRegistryABI = `[
  {"type":"event","name":"ModelRegistered","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"cid","type":"string","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"category","type":"string","indexed":false}]},
  {"type":"function","name":"getModel","stateMutability":"view",
   "inputs":[{"name":"id","type":"bytes32"}],
   "outputs":[
    {"name":"","type":"address"},
    {"name":"","type":"string"},
    {"name":"","type":"uint256"},
    {"name":"","type":"bool"},
    {"name":"","type":"string"}]},
  {"type":"function","name":"models","stateMutability":"view",
   "inputs":[{"name":"","type":"bytes32"}],
   "outputs":[
    {"name":"provider","type":"address"},
    {"name":"cid","type":"string"},
    {"name":"price","type":"uint256"},
    {"name":"active","type":"bool"},
    {"name":"category","type":"string"}]}
]`

const predictionRegistryABI = `[
  {"type":"event","name":"PredictionRecorded","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"modelId","type":"bytes32","indexed":true},
    {"name":"requester","type":"address","indexed":true},
    {"name":"cid","type":"string","indexed":false},
    {"name":"tokenId","type":"uint256","indexed":false}]}
]`

const (
	eventModelRegistered    = "ModelRegistered"
	eventPredictionRecorded = "PredictionRecorded"
	methodGetModel          = "getModel"
	methodModels            = "models"
)

var (
	ModelRegistryABI      = mustParseABI(modelRegistryABI)
	PredictionRegistryABI = mustParseABI(predictionRegistryABI)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

