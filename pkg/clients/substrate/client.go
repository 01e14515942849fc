// Package substrate implements a JSON-RPC client for an Autonomys/Subspace
// archive node fronted by the project's RPC gateway. The gateway serves
// storage values in their human-readable projection, which keeps the client
// free of any codec metadata; heterogeneous value shapes are absorbed by the
// rawvalue adapter.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/metrics"
	"github.com/anoncenomics/domain-indexer/internal/metrics/metricsTypes"
	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var jsonRPCVersion = "2.0"

type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint   `json:"id"`
}

type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPC is the read-only chain surface the indexer consumes. *Client satisfies
// it; tests substitute in-memory fakes.
type RPC interface {
	GetHeadBlockNumber(ctx context.Context) (uint64, error)
	GetBlockHash(ctx context.Context, blockNumber uint64) (string, error)
	GetBlockHashes(ctx context.Context, blockNumbers []uint64) ([]string, error)
	EpochIndexAt(ctx context.Context, domainId uint32, blockNumber uint64) (int64, bool, error)
	StorageAt(ctx context.Context, pallet string, item string, args []string, blockHash string) (rawvalue.Value, error)
	StorageEntriesAt(ctx context.Context, pallet string, item string, args []string, blockHash string) ([]rawvalue.Entry, error)
	HealthProbe(ctx context.Context) error
}

type SubstrateClientConfig struct {
	BaseUrl  string
	Username string
	Password string
	// Number of calls to make in parallel from BatchCall
	ChunkedBatchCallSize int
}

func DefaultSubstrateClientConfig() *SubstrateClientConfig {
	return &SubstrateClientConfig{
		ChunkedBatchCallSize: 10,
	}
}

type Client struct {
	Logger       *zap.Logger
	httpClient   *http.Client
	clientConfig *SubstrateClientConfig
	metricsSink  *metrics.MetricsSink
}

func NewClient(cfg *SubstrateClientConfig, l *zap.Logger) *Client {
	client := &http.Client{
		Timeout: time.Second * 60,
	}

	return &Client{
		httpClient:   client,
		Logger:       l,
		clientConfig: cfg,
	}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) SetMetricsSink(sink *metrics.MetricsSink) {
	c.metricsSink = sink
}

func (c *Client) GetHeadBlockNumber(ctx context.Context) (uint64, error) {
	res, err := c.Call(ctx, GetHeaderRequest(1))
	if err != nil {
		return 0, err
	}
	header, err := RPCMethod_getHeader.ResponseParser(res.Result)
	if err != nil {
		c.Logger.Sugar().Errorw("failed to parse chain header",
			zap.Error(err),
			zap.Any("raw response", res.Result),
		)
		return 0, err
	}
	return header.BlockNumber()
}

func (c *Client) GetBlockHash(ctx context.Context, blockNumber uint64) (string, error) {
	res, err := c.Call(ctx, GetBlockHashRequest(blockNumber, 1))
	if err != nil {
		return "", err
	}
	hash, err := RPCMethod_getBlockHash.ResponseParser(res.Result)
	if err != nil {
		return "", err
	}
	if hash == "" || hash == "null" {
		return "", errors.Errorf("no block hash at height %d", blockNumber)
	}
	return hash, nil
}

// GetBlockHashes resolves several block hashes through one chunked batch
// call, preserving input order.
func (c *Client) GetBlockHashes(ctx context.Context, blockNumbers []uint64) ([]string, error) {
	requests := make([]*RPCRequest, 0, len(blockNumbers))
	for i, blockNumber := range blockNumbers {
		requests = append(requests, GetBlockHashRequest(blockNumber, uint(i+1)))
	}

	responses, err := c.BatchCall(ctx, requests)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(responses))
	for i, res := range responses {
		hash, err := RPCMethod_getBlockHash.ResponseParser(res.Result)
		if err != nil {
			return nil, err
		}
		if hash == "" || hash == "null" {
			return nil, errors.Errorf("no block hash at height %d", blockNumbers[i])
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// EpochIndexAt reads the domain's current epoch index at the given block.
// The second return is false when the node has no staking state at that
// height (pre-genesis for the domain), which boundary search treats as
// "too low".
func (c *Client) EpochIndexAt(ctx context.Context, domainId uint32, blockNumber uint64) (int64, bool, error) {
	blockHash, err := c.GetBlockHash(ctx, blockNumber)
	if err != nil {
		return 0, false, err
	}
	summary, err := c.StorageAt(ctx, "domains", "domainStakingSummary", []string{domainIdArg(domainId)}, blockHash)
	if err != nil {
		return 0, false, err
	}
	if !summary.HasValue() {
		return 0, false, nil
	}
	epochField, ok := summary.Field("currentEpochIndex", "current_epoch_index")
	if !ok {
		return 0, false, errors.New("domainStakingSummary has no currentEpochIndex field")
	}
	epochStr, err := epochField.AsDecimalString()
	if err != nil {
		return 0, false, err
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "invalid epoch index '%s'", epochStr)
	}
	return epoch, true, nil
}

func (c *Client) StorageAt(ctx context.Context, pallet string, item string, args []string, blockHash string) (rawvalue.Value, error) {
	res, err := c.Call(ctx, GetStorageAtRequest(pallet, item, args, blockHash, 1))
	if err != nil {
		return rawvalue.Value{}, err
	}
	return rawvalue.FromJSON(res.Result), nil
}

func (c *Client) StorageEntriesAt(ctx context.Context, pallet string, item string, args []string, blockHash string) ([]rawvalue.Entry, error) {
	res, err := c.Call(ctx, GetStorageEntriesAtRequest(pallet, item, args, blockHash, 1))
	if err != nil {
		return nil, err
	}
	return RPCMethod_getStorageEntriesAt.ResponseParser(res.Result)
}

// HealthProbe verifies the node is reachable and answering before the
// connection is handed to the pool.
func (c *Client) HealthProbe(ctx context.Context) error {
	res, err := c.Call(ctx, SystemChainRequest(1))
	if err != nil {
		return err
	}
	chain, err := RPCMethod_systemChain.ResponseParser(res.Result)
	if err != nil {
		return err
	}
	c.Logger.Sugar().Debugw("RPC health probe ok", zap.String("chain", chain))
	return nil
}

type IndexedRpcRequestResponse struct {
	Index    int
	Request  *RPCRequest
	Response *RPCResponse
}

type BatchedResponse struct {
	Index    int
	Response *RPCResponse
}

// BatchCall splits the requests into chunks of ChunkedBatchCallSize and sends
// them in parallel through the regular Call method, which allows for better
// retry and error handling than a native JSON-RPC batch.
func (c *Client) BatchCall(ctx context.Context, requests []*RPCRequest) ([]*RPCResponse, error) {
	if len(requests) == 0 {
		return make([]*RPCResponse, 0), nil
	}

	orderedRequestResponses := make([]*IndexedRpcRequestResponse, 0)
	for i, req := range requests {
		orderedRequestResponses = append(orderedRequestResponses, &IndexedRpcRequestResponse{
			Index:   i,
			Request: req,
		})
	}

	chunkSize := c.clientConfig.ChunkedBatchCallSize
	if chunkSize <= 0 {
		chunkSize = 10
	}
	batches := [][]*IndexedRpcRequestResponse{}
	currentIndex := 0
	for {
		endIndex := currentIndex + chunkSize
		if endIndex >= len(orderedRequestResponses) {
			endIndex = len(orderedRequestResponses)
		}
		batches = append(batches, orderedRequestResponses[currentIndex:endIndex])
		currentIndex = currentIndex + chunkSize
		if currentIndex >= len(orderedRequestResponses) {
			break
		}
	}
	c.Logger.Sugar().Debugw(fmt.Sprintf("Batching '%v' requests into '%v' batches", len(requests), len(batches)))

	for i, batch := range batches {
		var wg sync.WaitGroup
		responses := make(chan BatchedResponse, len(batch))

		for j, req := range batch {
			wg.Add(1)
			currentReq := req

			go func() {
				defer wg.Done()

				res, err := c.Call(ctx, currentReq.Request)
				if err != nil {
					c.Logger.Sugar().Errorw(fmt.Sprintf("[%d][%d] failed to batch call", i, j),
						zap.Error(err),
						zap.Any("request", currentReq.Request),
					)
					return
				}
				responses <- BatchedResponse{
					Index:    currentReq.Index,
					Response: res,
				}
			}()
		}
		wg.Wait()
		close(responses)

		for response := range responses {
			orderedRequestResponses[response.Index].Response = response.Response
		}
	}

	allResults := []*RPCResponse{}
	for _, req := range orderedRequestResponses {
		if req.Response == nil {
			return nil, errors.Errorf("failed to fetch result for request %d", req.Index)
		}
		allResults = append(allResults, req.Response)
	}
	return allResults, nil
}

func (c *Client) call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	requestBody, err := json.Marshal(rpcRequest)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*60)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clientConfig.BaseUrl, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("Failed to make request %s", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.clientConfig.Username != "" || c.clientConfig.Password != "" {
		request.SetBasicAuth(c.clientConfig.Username, c.clientConfig.Password)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("Request failed %s", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("Failed to read body %s", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received http error code %+v", response.StatusCode)
	}

	destination := &RPCResponse{}
	if err := json.Unmarshal(responseBody, destination); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %s", err)
	}

	if destination.Error != nil {
		return nil, fmt.Errorf("received error response: %+v", destination.Error)
	}

	return destination, nil
}

// Call issues a single JSON-RPC request, retrying transient failures with a
// capped backoff. Context cancellation short-circuits the retry loop.
func (c *Client) Call(ctx context.Context, rpcRequest *RPCRequest) (*RPCResponse, error) {
	backoffs := []int{1, 2, 4, 8, 16, 30}

	var lastErr error
	for i, backoff := range backoffs {
		if c.metricsSink != nil {
			_ = c.metricsSink.Incr(metricsTypes.Metric_Incr_RpcRequest, nil, 1)
		}
		res, err := c.call(ctx, rpcRequest)
		if err == nil {
			if i > 0 {
				c.Logger.Sugar().Infow("Successfully called after backoff",
					zap.Int("backoffSecs", backoff),
					zap.String("method", rpcRequest.Method),
				)
			}
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Logger.Sugar().Errorw("Failed to call",
			zap.Error(err),
			zap.Int("backoffSecs", backoff),
			zap.String("method", rpcRequest.Method),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(backoff)):
		}
	}
	c.Logger.Sugar().Errorw("Exceeded retries for Call", zap.String("method", rpcRequest.Method))
	return nil, errors.Wrap(lastErr, "exceeded retries for Call")
}

func domainIdArg(domainId uint32) string {
	return strconv.FormatUint(uint64(domainId), 10)
}

// ParseHexUint64 decodes a 0x-prefixed hex quantity as the node encodes
// header numbers.
func ParseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, errors.New("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}
