package onchain

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/logger"
	"github.com/tollgate/gateway/pkg/x402"
)

// transferTopic is the event signature hash of ERC-20 Transfer.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	txHashRe  = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// ReceiptFetcher fetches transaction receipts. *ethclient.Client satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ProofRecorder atomically claims a payment proof. The ledger store
// satisfies it; the insert winner is the only caller allowed to serve
// the request.
type ProofRecorder interface {
	RecordProof(ctx context.Context, proofKey, payer string, amount *big.Int, network string) (bool, error)
}

// Verifier checks settled stablecoin transfers directly against the chain:
// fetch the receipt, sum Transfer events to the recipient, then claim the
// transaction hash in the ledger.
type Verifier struct {
	fetcher ReceiptFetcher
	proofs  ProofRecorder
	token   common.Address
	network string
	timeout time.Duration
	log     zerolog.Logger
}

// NewVerifier builds a verifier for one chain's stablecoin.
func NewVerifier(fetcher ReceiptFetcher, proofs ProofRecorder, tokenContract, network string, timeout time.Duration, log zerolog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Verifier{
		fetcher: fetcher,
		proofs:  proofs,
		token:   common.HexToAddress(tokenContract),
		network: network,
		timeout: timeout,
		log:     log.With().Str("component", "onchain_verifier").Logger(),
	}
}

// VerifyPayment checks that txHash is a settled transfer of at least
// amount base units of the stablecoin to recipient, and claims the hash.
// All failures are reported through the result reason; the request cycle
// turns them into 402 or 503 responses.
func (v *Verifier) VerifyPayment(ctx context.Context, txHash, recipient string, amount *big.Int) x402.VerificationResult {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !txHashRe.MatchString(txHash) {
		return x402.Reject(x402.ReasonMalformedProof)
	}
	if !addressRe.MatchString(recipient) {
		return x402.Reject(x402.ReasonMalformedProof)
	}
	recipientAddr := common.HexToAddress(recipient)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := v.fetcher.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return x402.Reject(x402.ReasonNotFound)
		}
		v.log.Warn().Err(err).Str("tx_hash", logger.TruncateHash(txHash)).Msg("onchain.receipt_fetch_failed")
		return x402.Reject(x402.ReasonUpstreamUnavailable)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return x402.Reject(x402.ReasonReverted)
	}

	// Sum every Transfer from the stablecoin contract to the recipient.
	// Split payments across multiple events are fine; overpayment is fine.
	total := new(big.Int)
	var payer common.Address
	sawTransfer := false
	for _, lg := range receipt.Logs {
		if lg.Address != v.token {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		sawTransfer = true
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != recipientAddr {
			continue
		}
		if payer == (common.Address{}) {
			payer = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}

	if !sawTransfer {
		return x402.Reject(x402.ReasonWrongToken)
	}
	if total.Sign() == 0 {
		return x402.Reject(x402.ReasonWrongRecipient)
	}
	if total.Cmp(amount) < 0 {
		return x402.Reject(x402.ReasonInsufficientAmount)
	}

	fresh, err := v.proofs.RecordProof(ctx, txHash, payer.Hex(), amount, v.network)
	if err != nil {
		v.log.Error().Err(err).Str("tx_hash", logger.TruncateHash(txHash)).Msg("onchain.proof_record_failed")
		return x402.Reject(x402.ReasonUpstreamUnavailable)
	}
	if !fresh {
		return x402.Reject(x402.ReasonReplayed)
	}

	v.log.Info().
		Str("tx_hash", logger.TruncateHash(txHash)).
		Str("payer", payer.Hex()).
		Str("amount", total.String()).
		Msg("onchain.payment_verified")
	return x402.Accept(payer.Hex())
}
