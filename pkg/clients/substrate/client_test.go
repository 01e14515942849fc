package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

const testBaseUrl = "http://localhost:9944"

func newTestClient(cfg *SubstrateClientConfig) *Client {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	c := NewClient(cfg, l)
	c.SetHttpClient(&http.Client{Transport: httpmock.DefaultTransport})
	return c
}

func rpcResponder(results map[string]string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		var rpcReq RPCRequest
		if err := json.NewDecoder(req.Body).Decode(&rpcReq); err != nil {
			return httpmock.NewStringResponse(400, "bad request"), nil
		}
		result, ok := results[rpcReq.Method]
		if !ok {
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`), nil
		}
		return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":`+result+`}`), nil
	}
}

func Test_SubstrateClient(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	t.Run("Should read the head block number from the chain header", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"chain_getHeader": `{"number":"0x12d687","parentHash":"0xabc"}`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		head, err := client.GetHeadBlockNumber(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, uint64(1234567), head)
	})

	t.Run("Should read a block hash", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"chain_getBlockHash": `"0xdeadbeef"`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		hash, err := client.GetBlockHash(context.Background(), 42)
		assert.Nil(t, err)
		assert.Equal(t, "0xdeadbeef", hash)
	})

	t.Run("Should error on a missing block hash", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"chain_getBlockHash": `null`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		_, err := client.GetBlockHash(context.Background(), 42)
		assert.NotNil(t, err)
	})

	t.Run("Should batch block hash lookups in order", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, func(req *http.Request) (*http.Response, error) {
			var rpcReq RPCRequest
			if err := json.NewDecoder(req.Body).Decode(&rpcReq); err != nil {
				return httpmock.NewStringResponse(400, "bad request"), nil
			}
			params, ok := rpcReq.Params.([]interface{})
			if !ok || len(params) != 1 {
				return httpmock.NewStringResponse(400, "bad params"), nil
			}
			blockNumber := uint64(params[0].(float64))
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"0xhash%d"}`, rpcReq.ID, blockNumber)
			return httpmock.NewStringResponse(200, body), nil
		})

		// chunk size below the request count exercises the chunked path
		cfg := DefaultSubstrateClientConfig()
		cfg.BaseUrl = testBaseUrl
		cfg.ChunkedBatchCallSize = 2
		client := newTestClient(cfg)

		hashes, err := client.GetBlockHashes(context.Background(), []uint64{100, 149, 150})
		assert.Nil(t, err)
		assert.Equal(t, []string{"0xhash100", "0xhash149", "0xhash150"}, hashes)
	})

	t.Run("Should read the epoch index from the staking summary", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"chain_getBlockHash":       `"0xblockhash"`,
			"state_getStorageHumanized": `{"currentEpochIndex":"1,234","currentTotalStake":"999"}`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		epoch, ok, err := client.EpochIndexAt(context.Background(), 0, 42)
		assert.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1234), epoch)
	})

	t.Run("Should report no staking state before the domain genesis", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"chain_getBlockHash":       `"0xblockhash"`,
			"state_getStorageHumanized": `null`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		_, ok, err := client.EpochIndexAt(context.Background(), 0, 42)
		assert.Nil(t, err)
		assert.False(t, ok)
	})

	t.Run("Should enumerate storage entries", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{
			"state_getStorageEntriesHumanized": `[{"key":["1"],"value":{"currentTotalStake":"100"}},{"key":["2"],"value":{"currentTotalStake":"200"}}]`,
		}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		entries, err := client.StorageEntriesAt(context.Background(), "domains", "operators", nil, "0xhash")
		assert.Nil(t, err)
		assert.Equal(t, 2, len(entries))
		assert.Equal(t, []string{"1"}, entries[0].KeyArgs)

		stake, ok := entries[0].Value.Field("currentTotalStake", "current_total_stake")
		assert.True(t, ok)
		s, err := stake.AsDecimalString()
		assert.Nil(t, err)
		assert.Equal(t, "100", s)
	})

	t.Run("Should send basic auth when credentials are configured", func(t *testing.T) {
		httpmock.Reset()
		var sawAuth bool
		httpmock.RegisterResponder("POST", testBaseUrl, func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			sawAuth = ok && user == "rpcuser" && pass == "rpcpass"
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":"subspace"}`), nil
		})

		client := newTestClient(&SubstrateClientConfig{
			BaseUrl:  testBaseUrl,
			Username: "rpcuser",
			Password: "rpcpass",
		})
		err := client.HealthProbe(context.Background())
		assert.Nil(t, err)
		assert.True(t, sawAuth)
	})

	t.Run("Should not send basic auth without credentials", func(t *testing.T) {
		httpmock.Reset()
		var sawHeader bool
		httpmock.RegisterResponder("POST", testBaseUrl, func(req *http.Request) (*http.Response, error) {
			_, _, sawHeader = req.BasicAuth()
			return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":"subspace"}`), nil
		})

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		err := client.HealthProbe(context.Background())
		assert.Nil(t, err)
		assert.False(t, sawHeader)
	})

	t.Run("Should surface rpc errors", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder("POST", testBaseUrl, rpcResponder(map[string]string{}))

		client := newTestClient(&SubstrateClientConfig{BaseUrl: testBaseUrl})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		// cancelled context short-circuits the retry loop
		_, err := client.Call(ctx, GetHeaderRequest(1))
		assert.NotNil(t, err)
	})
}

func Test_ParseHexUint64(t *testing.T) {
	n, err := ParseHexUint64("0x1a")
	assert.Nil(t, err)
	assert.Equal(t, uint64(26), n)

	n, err = ParseHexUint64("ff")
	assert.Nil(t, err)
	assert.Equal(t, uint64(255), n)

	_, err = ParseHexUint64("")
	assert.NotNil(t, err)
}
