// NEAR RPC Client
// Thin JSON-RPC 2.0 client for the NEAR node API: block/chunk/tx queries,
// read-only contract calls and signed transaction broadcast.
package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NEARRPCClient talks to a single NEAR RPC endpoint
type NEARRPCClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewNEARRPCClient creates a client for the given RPC endpoint
func NewNEARRPCClient(endpoint string) *NEARRPCClient {
	return &NEARRPCClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Name  string          `json:"name"`
	Cause json.RawMessage `json:"cause"`
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
}

func (e *rpcError) Error() string {
	// the interesting classification often lives in cause.name, e.g.
	// {"name":"HANDLER_ERROR","cause":{"name":"UNKNOWN_BLOCK"}}
	return fmt.Sprintf("near rpc error %s (code %d) cause=%s: %s", e.Name, e.Code, string(e.Cause), string(e.Data))
}

// IsUnknownBlock reports whether the error is the node telling us the block
// does not exist or has been garbage-collected.
func IsUnknownBlock(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNKNOWN_BLOCK") || strings.Contains(msg, "GARBAGE_COLLECTED_BLOCK")
}

// call performs one JSON-RPC round trip and unmarshals the result into out
func (c *NEARRPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "relayer",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("near rpc %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("near rpc %s returned HTTP %d: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// BlockHeader is the subset of the NEAR block header the relayer uses
type BlockHeader struct {
	Height       uint64 `json:"height"`
	Hash         string `json:"hash"`
	PrevHash     string `json:"prev_hash"`
	TimestampNs  uint64 `json:"timestamp"`
	GasPrice     string `json:"gas_price"`
	EpochID      string `json:"epoch_id"`
	NextEpochID  string `json:"next_epoch_id"`
	ChunksAvail  uint64 `json:"chunks_included"`
}

// ChunkHeader identifies one chunk in a block
type ChunkHeader struct {
	ChunkHash string `json:"chunk_hash"`
	ShardID   uint64 `json:"shard_id"`
	HeightIncluded uint64 `json:"height_included"`
}

// Block is a NEAR block with its chunk headers
type Block struct {
	Header BlockHeader   `json:"header"`
	Chunks []ChunkHeader `json:"chunks"`
}

// GetLatestBlock returns the final block on the canonical chain
func (c *NEARRPCClient) GetLatestBlock(ctx context.Context) (*Block, error) {
	var block Block
	if err := c.call(ctx, "block", map[string]interface{}{"finality": "final"}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlockByHeight returns the block at the given height.
// Callers should treat IsUnknownBlock errors as a skipped height.
func (c *NEARRPCClient) GetBlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	var block Block
	if err := c.call(ctx, "block", map[string]interface{}{"block_id": height}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// ChunkTransaction is one transaction inside a chunk
type ChunkTransaction struct {
	Hash       string `json:"hash"`
	SignerID   string `json:"signer_id"`
	ReceiverID string `json:"receiver_id"`
}

// Chunk holds the transactions of one shard chunk
type Chunk struct {
	Header       ChunkHeader        `json:"header"`
	Transactions []ChunkTransaction `json:"transactions"`
}

// GetChunk returns a chunk by its hash
func (c *NEARRPCClient) GetChunk(ctx context.Context, chunkHash string) (*Chunk, error) {
	var chunk Chunk
	if err := c.call(ctx, "chunk", map[string]interface{}{"chunk_id": chunkHash}, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// ExecutionOutcome is the outcome of one receipt, carrying contract logs
type ExecutionOutcome struct {
	Logs       []string `json:"logs"`
	ReceiptIDs []string `json:"receipt_ids"`
	GasBurnt   uint64   `json:"gas_burnt"`
	ExecutorID string   `json:"executor_id"`
}

type outcomeWrapper struct {
	Outcome ExecutionOutcome `json:"outcome"`
}

// TransactionStatus is the final execution status of a transaction
type TransactionStatus struct {
	Status           json.RawMessage `json:"status"`
	ReceiptsOutcomes []outcomeWrapper `json:"receipts_outcome"`
}

// Succeeded reports whether the transaction finished with SuccessValue or
// SuccessReceiptId.
func (s *TransactionStatus) Succeeded() bool {
	var status map[string]json.RawMessage
	if err := json.Unmarshal(s.Status, &status); err != nil {
		return false
	}
	_, hasValue := status["SuccessValue"]
	_, hasReceipt := status["SuccessReceiptId"]
	return hasValue || hasReceipt
}

// Logs returns every receipt log in execution order
func (s *TransactionStatus) Logs() []string {
	var logs []string
	for _, outcome := range s.ReceiptsOutcomes {
		logs = append(logs, outcome.Outcome.Logs...)
	}
	return logs
}

// GetTransactionStatus returns the execution status of a transaction
func (c *NEARRPCClient) GetTransactionStatus(ctx context.Context, txHash, senderID string) (*TransactionStatus, error) {
	var status TransactionStatus
	params := map[string]interface{}{
		"tx_hash":           txHash,
		"sender_account_id": senderID,
		"wait_until":        "EXECUTED",
	}
	if err := c.call(ctx, "tx", params, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CallFunctionResult is the result of a read-only contract call
type CallFunctionResult struct {
	Result      []byte   `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
}

// CallFunction performs a read-only view call against a contract.
// args are JSON-marshaled and base64-encoded per the node API.
func (c *NEARRPCClient) CallFunction(ctx context.Context, accountID, methodName string, args interface{}) (*CallFunctionResult, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args for %s.%s: %w", accountID, methodName, err)
	}

	var result CallFunctionResult
	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   accountID,
		"method_name":  methodName,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}
	if err := c.call(ctx, "query", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BroadcastResult is the outcome of broadcast_tx_commit
type BroadcastResult struct {
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
	Status           json.RawMessage  `json:"status"`
	ReceiptsOutcomes []outcomeWrapper `json:"receipts_outcome"`
}

// Succeeded reports whether the broadcast transaction executed successfully
func (r *BroadcastResult) Succeeded() bool {
	st := &TransactionStatus{Status: r.Status}
	return st.Succeeded()
}

// Logs returns every receipt log of the broadcast transaction
func (r *BroadcastResult) Logs() []string {
	st := &TransactionStatus{ReceiptsOutcomes: r.ReceiptsOutcomes}
	return st.Logs()
}

// FailureMessage extracts a human-readable failure from the status, if any
func (r *BroadcastResult) FailureMessage() string {
	var status map[string]json.RawMessage
	if err := json.Unmarshal(r.Status, &status); err != nil {
		return ""
	}
	if failure, ok := status["Failure"]; ok {
		return string(failure)
	}
	return ""
}

// BroadcastTxCommit submits a signed, base64-encoded transaction and waits
// for execution.
func (c *NEARRPCClient) BroadcastTxCommit(ctx context.Context, signedTxBase64 string) (*BroadcastResult, error) {
	var result BroadcastResult
	if err := c.call(ctx, "broadcast_tx_commit", []string{signedTxBase64}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAccessKeyNonce returns the current nonce and block hash for an access key,
// needed to build the next transaction.
func (c *NEARRPCClient) GetAccessKeyNonce(ctx context.Context, accountID, publicKey string) (uint64, string, error) {
	var result struct {
		Nonce     uint64 `json:"nonce"`
		BlockHash string `json:"block_hash"`
	}
	params := map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey,
	}
	if err := c.call(ctx, "query", params, &result); err != nil {
		return 0, "", err
	}
	return result.Nonce, result.BlockHash, nil
}
