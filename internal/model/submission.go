package model

import "time"

// SubmissionRecord is one audit row per transaction sent to the ledger.
type SubmissionRecord struct {
	ID        string    `db:"id"`
	Op        string    `db:"op"`
	OrderHash string    `db:"order_hash"`
	Contract  string    `db:"contract"`
	Maker     string    `db:"maker"`
	Sender    string    `db:"sender"`
	Qty       string    `db:"qty"`
	TxHash    string    `db:"tx_hash"`
	Block     uint64    `db:"block"`
	CreatedAt time.Time `db:"created_at"`
}
