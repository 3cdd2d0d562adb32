package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ms-lottery/internal/logger"
	"ms-lottery/internal/models"
	"ms-lottery/internal/ton"
)

// Toncenter verifies payments against the toncenter v2 HTTP API.
type Toncenter struct {
	baseURL  string
	apiKey   string
	limit    int
	maxPages int
	timeout  time.Duration
	client   *http.Client
	log      *logger.Logger
}

type ToncenterOptions struct {
	BaseURL  string
	APIKey   string
	TxLimit  int
	MaxPages int
	Timeout  time.Duration
	Client   *http.Client
}

func NewToncenter(opts ToncenterOptions, log *logger.Logger) *Toncenter {
	if opts.TxLimit <= 0 {
		opts.TxLimit = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Toncenter{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		limit:    opts.TxLimit,
		maxPages: opts.MaxPages,
		timeout:  opts.Timeout,
		client:   opts.Client,
		log:      log,
	}
}

type transactionsResponse struct {
	OK     bool          `json:"ok"`
	Result []transaction `json:"result"`
	Error  string        `json:"error"`
	Code   int           `json:"code"`
}

type transaction struct {
	Utime         int64         `json:"utime"`
	TransactionID transactionID `json:"transaction_id"`
	InMsg         *message      `json:"in_msg"`
}

type transactionID struct {
	LT   string `json:"lt"`
	Hash string `json:"hash"`
}

type message struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Message     string `json:"message"`
}

// Verify walks the receiving wallet's transactions newest first, one page
// at a time, looking for an inbound transfer carrying the memo. The walk
// stops at the first transaction older than req.Since, at a short page, or
// after maxPages. It never retries; the caller decides when to ask again.
func (c *Toncenter) Verify(ctx context.Context, req Request) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var cursor *transactionID
	seen := 0
	for page := 0; page < c.maxPages; page++ {
		txs, err := c.fetchTransactions(ctx, req.ExpectedAddress, cursor)
		if err != nil {
			c.log.Warn("ORACLE", fmt.Sprintf("toncenter unavailable for %s: %v", req.TicketID, err))
			return UnavailableBecause(err)
		}
		full := len(txs) >= c.limit

		// a page fetched from a cursor starts with the cursor transaction
		if cursor != nil && len(txs) > 0 && txs[0].TransactionID == *cursor {
			txs = txs[1:]
		}
		seen += len(txs)

		for _, tx := range txs {
			if ev, ok := match(tx, req); ok {
				c.log.LogOracle("MATCH", req.TicketID, fmt.Sprintf("tx %s lt %s", ev.TxHash, ev.LogicalTime))
				return ConfirmedWith(ev)
			}
		}

		if !full || len(txs) == 0 {
			break
		}
		last := txs[len(txs)-1]
		if !req.Since.IsZero() && last.Utime < req.Since.Unix() {
			break
		}
		cursor = &last.TransactionID
	}

	c.log.Debug("ORACLE", fmt.Sprintf("no transfer for %s among %d transactions", req.TicketID, seen))
	return NotObserved()
}

func (c *Toncenter) fetchTransactions(ctx context.Context, address string, from *transactionID) ([]transaction, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("limit", strconv.Itoa(c.limit))
	if from != nil {
		q.Set("lt", from.LT)
		q.Set("hash", from.Hash)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getTransactions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.New("rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out transactionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("toncenter error %d: %s", out.Code, out.Error)
	}
	return out.Result, nil
}

// match applies the payment rule: same memo, paid into the receiving
// account, at least the expected amount.
func match(tx transaction, req Request) (models.PaymentEvidence, bool) {
	in := tx.InMsg
	if in == nil || in.Source == "" {
		return models.PaymentEvidence{}, false
	}
	if strings.TrimSpace(in.Message) != req.Memo {
		return models.PaymentEvidence{}, false
	}
	if !ton.SameAccount(in.Destination, req.ExpectedAddress) {
		return models.PaymentEvidence{}, false
	}
	value, err := ton.ParseNano(in.Value)
	if err != nil || value < req.ExpectedNano {
		return models.PaymentEvidence{}, false
	}
	return models.PaymentEvidence{
		TxHash:      tx.TransactionID.Hash,
		LogicalTime: tx.TransactionID.LT,
		AmountNano:  value,
		Source:      in.Source,
		Destination: in.Destination,
		Memo:        req.Memo,
		Utime:       tx.Utime,
	}, true
}
