package runner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/pkg/types"
)

// Submissions flattens a report into one record per intent, followed by one
// record per skipped ephemeral.
func Submissions(runID string, rep *catalog.Report) []types.Submission {
	var out []types.Submission
	for _, phase := range rep.Phases {
		for _, res := range phase.Results {
			out = append(out, Submission(runID, rep.Wallet, phase.Name, res))
		}
	}
	now := time.Now()
	for _, s := range rep.Skipped {
		out = append(out, types.Submission{
			RunID:     runID,
			Wallet:    rep.Wallet.Hex(),
			Phase:     s.Phase,
			From:      s.Address.Hex(),
			To:        rep.Wallet.Hex(),
			Status:    types.SubmissionSkipped,
			Error:     s.Reason,
			CreatedAt: now,
		})
	}
	return out
}

// Submission converts one pipeline result.
func Submission(runID string, wallet common.Address, phase string, res pipeline.Result) types.Submission {
	sub := types.Submission{
		RunID:     runID,
		Phase:     phase,
		Call:      string(res.Intent.Call),
		Label:     res.Intent.Label,
		Attempts:  res.Attempts,
		LatencyMs: res.Latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if wallet != (common.Address{}) {
		sub.Wallet = wallet.Hex()
	}
	if res.Intent.Sender != nil {
		sub.From = res.Intent.Sender.Address.Hex()
	}
	if res.Intent.Recipient != (common.Address{}) {
		sub.To = res.Intent.Recipient.Hex()
	}
	if res.HasNonce {
		n := res.Nonce
		sub.Nonce = &n
	}
	if res.TxHash != (common.Hash{}) {
		sub.TxHash = res.TxHash.Hex()
	}
	if res.Receipt != nil {
		sub.GasUsed = res.Receipt.GasUsed
		sub.Block = res.Receipt.BlockNumber
	}

	switch {
	case res.OK():
		sub.Status = types.SubmissionConfirmed
	case res.Stage == pipeline.StageNotStarted:
		sub.Status = types.SubmissionNotStarted
	default:
		sub.Status = types.SubmissionFailed
	}
	if res.Err != nil {
		sub.Error = res.Err.Error()
	}
	return sub
}
