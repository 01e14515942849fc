package substrate

import (
	"encoding/json"
	"strings"

	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
)

type ResponseParserFunc[T any] func(res json.RawMessage) (T, error)

type RequestMethod struct {
	Name string
}

type RequestResponseHandler[T any] struct {
	RequestMethod  *RequestMethod
	ResponseParser ResponseParserFunc[T]
}

// ChainHeader is the subset of chain_getHeader the indexer needs. Number is
// a 0x-prefixed hex quantity.
type ChainHeader struct {
	Number     string `json:"number"`
	ParentHash string `json:"parentHash"`
}

func (h *ChainHeader) BlockNumber() (uint64, error) {
	return ParseHexUint64(h.Number)
}

// storageEntry is the wire shape of one enumerated map entry: the ordered
// key arguments and the human-readable value.
type storageEntry struct {
	Key   []string        `json:"key"`
	Value json.RawMessage `json:"value"`
}

var (
	RPCMethod_systemChain = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name: "system_chain",
		},
		ResponseParser: func(res json.RawMessage) (string, error) {
			return strings.ReplaceAll(string(res), "\"", ""), nil
		},
	}
	RPCMethod_getHeader = &RequestResponseHandler[*ChainHeader]{
		RequestMethod: &RequestMethod{
			Name: "chain_getHeader",
		},
		ResponseParser: func(res json.RawMessage) (*ChainHeader, error) {
			header := &ChainHeader{}
			if err := json.Unmarshal(res, header); err != nil {
				return nil, err
			}
			return header, nil
		},
	}
	RPCMethod_getBlockHash = &RequestResponseHandler[string]{
		RequestMethod: &RequestMethod{
			Name: "chain_getBlockHash",
		},
		ResponseParser: func(res json.RawMessage) (string, error) {
			return strings.ReplaceAll(string(res), "\"", ""), nil
		},
	}
	RPCMethod_getStorageAt = &RequestResponseHandler[rawvalue.Value]{
		RequestMethod: &RequestMethod{
			Name: "state_getStorageHumanized",
		},
		ResponseParser: func(res json.RawMessage) (rawvalue.Value, error) {
			return rawvalue.FromJSON(res), nil
		},
	}
	RPCMethod_getStorageEntriesAt = &RequestResponseHandler[[]rawvalue.Entry]{
		RequestMethod: &RequestMethod{
			Name: "state_getStorageEntriesHumanized",
		},
		ResponseParser: func(res json.RawMessage) ([]rawvalue.Entry, error) {
			wireEntries := []storageEntry{}
			if err := json.Unmarshal(res, &wireEntries); err != nil {
				return nil, err
			}
			entries := make([]rawvalue.Entry, 0, len(wireEntries))
			for _, e := range wireEntries {
				entries = append(entries, rawvalue.Entry{
					KeyArgs: e.Key,
					Value:   rawvalue.FromJSON(e.Value),
				})
			}
			return entries, nil
		},
	}
)

func SystemChainRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_systemChain.RequestMethod.Name,
		ID:      id,
	}
}

func GetHeaderRequest(id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getHeader.RequestMethod.Name,
		ID:      id,
	}
}

func GetBlockHashRequest(blockNumber uint64, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getBlockHash.RequestMethod.Name,
		Params:  []interface{}{blockNumber},
		ID:      id,
	}
}

// GetStorageAtRequest reads one storage item (optionally keyed by args) at
// the given block hash, in its human-readable projection.
func GetStorageAtRequest(pallet string, item string, args []string, blockHash string, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getStorageAt.RequestMethod.Name,
		Params:  []interface{}{pallet, item, args, blockHash},
		ID:      id,
	}
}

// GetStorageEntriesAtRequest enumerates a full storage map (optionally
// scoped by key-prefix args) at the given block hash.
func GetStorageEntriesAtRequest(pallet string, item string, args []string, blockHash string, id uint) *RPCRequest {
	return &RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  RPCMethod_getStorageEntriesAt.RequestMethod.Name,
		Params:  []interface{}{pallet, item, args, blockHash},
		ID:      id,
	}
}
