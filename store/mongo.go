package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/secureshuttle/escrow/types"
)

// Mongo is the document-store adapter backed by MongoDB. Timestamps are
// persisted as epoch-millisecond integers and converted to time.Time here,
// and nowhere else.
type Mongo struct {
	client       *mongo.Client
	escrows      *mongo.Collection
	transactions *mongo.Collection
}

// NewMongo connects to uri and binds the two collections under database name.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:       client,
		escrows:      db.Collection("escrows"),
		transactions: db.Collection("transactions"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.escrows.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "public_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "invite_token_hash", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("escrow indexes: %w", err)
	}
	_, err = m.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "signature", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "escrow_id", Value: 1}, {Key: "recorded_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("transaction indexes: %w", err)
	}
	return nil
}

// escrowDoc is the wire shape of an escrow record. All *_at fields are
// epoch milliseconds; 0 means unset.
type escrowDoc struct {
	ID       string `bson:"_id"`
	PublicID string `bson:"public_id"`

	PublicKey string `bson:"public_key"`
	SecretKey string `bson:"secret_key"`

	Label                  string `bson:"label,omitempty"`
	SenderAddress          string `bson:"sender_address,omitempty"`
	RecipientAddress       string `bson:"recipient_address,omitempty"`
	ExpectedAmountLamports uint64 `bson:"expected_amount_lamports,omitempty"`

	Status string `bson:"status"`

	CreatorUserID string `bson:"creator_user_id"`
	PayerUserID   string `bson:"payer_user_id,omitempty"`
	PayeeUserID   string `bson:"payee_user_id,omitempty"`

	SenderClaimedAt    int64 `bson:"sender_claimed_at,omitempty"`
	RecipientClaimedAt int64 `bson:"recipient_claimed_at,omitempty"`

	JoinTokenHash string `bson:"join_token_hash,omitempty"`
	JoinExpiresAt int64  `bson:"join_expires_at,omitempty"`

	InviteTokenHash string `bson:"invite_token_hash,omitempty"`
	InviteExpiresAt int64  `bson:"invite_expires_at,omitempty"`
	InviteUsedAt    int64  `bson:"invite_used_at,omitempty"`
	AcceptedAt      int64  `bson:"accepted_at,omitempty"`

	FundedAt                int64  `bson:"funded_at,omitempty"`
	ServiceMarkedCompleteAt int64  `bson:"service_marked_complete_at,omitempty"`
	DisputedAt              int64  `bson:"disputed_at,omitempty"`
	DisputeReason           string `bson:"dispute_reason,omitempty"`

	FinalizeNonce    uint64 `bson:"finalize_nonce"`
	LastIntentHash   string `bson:"last_intent_hash,omitempty"`
	SettledSignature string `bson:"settled_signature,omitempty"`
	FailureReason    string `bson:"failure_reason,omitempty"`

	Version   int64 `bson:"version"`
	CreatedAt int64 `bson:"created_at"`
	UpdatedAt int64 `bson:"updated_at"`
}

type transactionDoc struct {
	ID       string `bson:"_id"`
	EscrowID string `bson:"escrow_id"`

	Signature string `bson:"signature"`
	Type      string `bson:"tx_type"`

	AmountLamports uint64 `bson:"amount_lamports,omitempty"`
	FromAddress    string `bson:"from_address,omitempty"`
	ToAddress      string `bson:"to_address,omitempty"`

	Status           string `bson:"status"`
	IntentHash       string `bson:"intent_hash,omitempty"`
	CommitmentTarget string `bson:"commitment_target,omitempty"`

	LastValidBlockHeight uint64 `bson:"last_valid_block_height,omitempty"`
	RPCEndpoint          string `bson:"rpc_endpoint,omitempty"`

	RawError string `bson:"raw_error,omitempty"`
	Memo     string `bson:"memo,omitempty"`

	RecordedAt int64 `bson:"recorded_at"`
}

func (m *Mongo) InsertEscrow(ctx context.Context, escrow *types.Escrow) (*types.Escrow, error) {
	rec := *escrow
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PublicID == "" {
		rec.PublicID = NewPublicID()
	}
	if rec.Status == "" {
		rec.Status = types.StatusOpen
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if _, err := m.escrows.InsertOne(ctx, escrowToDoc(&rec)); err != nil {
		return nil, fmt.Errorf("insert escrow: %w", err)
	}
	return &rec, nil
}

func (m *Mongo) GetEscrow(ctx context.Context, id string) (*types.Escrow, error) {
	return m.findEscrow(ctx, bson.M{"_id": id})
}

func (m *Mongo) GetEscrowByPublicID(ctx context.Context, publicID string) (*types.Escrow, error) {
	return m.findEscrow(ctx, bson.M{"public_id": publicID})
}

func (m *Mongo) GetEscrowByInviteHash(ctx context.Context, inviteTokenHash string) (*types.Escrow, error) {
	if inviteTokenHash == "" {
		return nil, nil
	}
	return m.findEscrow(ctx, bson.M{"invite_token_hash": inviteTokenHash})
}

func (m *Mongo) findEscrow(ctx context.Context, filter bson.M) (*types.Escrow, error) {
	var doc escrowDoc
	err := m.escrows.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find escrow: %w", err)
	}
	return escrowFromDoc(&doc), nil
}

func (m *Mongo) ListEscrows(ctx context.Context, filter ListFilter) (int, []*types.Escrow, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.MineOnly {
		query["$or"] = bson.A{
			bson.M{"creator_user_id": filter.ActorUserID},
			bson.M{"payer_user_id": filter.ActorUserID},
			bson.M{"payee_user_id": filter.ActorUserID},
		}
	}

	total, err := m.escrows.CountDocuments(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("count escrows: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := m.escrows.Find(ctx, query, opts)
	if err != nil {
		return 0, nil, fmt.Errorf("list escrows: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*types.Escrow
	for cursor.Next(ctx) {
		var doc escrowDoc
		if err := cursor.Decode(&doc); err != nil {
			return 0, nil, fmt.Errorf("decode escrow: %w", err)
		}
		items = append(items, escrowFromDoc(&doc))
	}
	return int(total), items, cursor.Err()
}

func (m *Mongo) UpdateEscrow(ctx context.Context, id string, update EscrowUpdate) (*types.Escrow, error) {
	set := escrowUpdateSet(update)
	set["updated_at"] = types.EpochMillis(time.Now().UTC())

	after := options.After
	var doc escrowDoc
	err := m.escrows.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}
	return escrowFromDoc(&doc), nil
}

func (m *Mongo) InsertTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	rec.RecordedAt = time.Now().UTC()

	if _, err := m.transactions.InsertOne(ctx, transactionToDoc(&rec)); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &rec, nil
}

func (m *Mongo) GetTransactionBySignature(ctx context.Context, signature string) (*types.Transaction, error) {
	var doc transactionDoc
	err := m.transactions.FindOne(ctx, bson.M{"signature": signature}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return transactionFromDoc(&doc), nil
}

func (m *Mongo) ListTransactions(ctx context.Context, escrowID string) ([]*types.Transaction, error) {
	cursor, err := m.transactions.Find(ctx,
		bson.M{"escrow_id": escrowID},
		options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*types.Transaction
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		items = append(items, transactionFromDoc(&doc))
	}
	return items, cursor.Err()
}

func (m *Mongo) UpdateTransaction(ctx context.Context, signature string, update TransactionUpdate) (*types.Transaction, error) {
	set := bson.M{}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.RawError != nil {
		set["raw_error"] = *update.RawError
	}
	if update.Memo != nil {
		set["memo"] = *update.Memo
	}
	if len(set) == 0 {
		return m.GetTransactionBySignature(ctx, signature)
	}

	after := options.After
	var doc transactionDoc
	err := m.transactions.FindOneAndUpdate(ctx,
		bson.M{"signature": signature},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return transactionFromDoc(&doc), nil
}

func escrowUpdateSet(u EscrowUpdate) bson.M {
	set := bson.M{}
	if u.Label != nil {
		set["label"] = *u.Label
	}
	if u.SenderAddress != nil {
		set["sender_address"] = *u.SenderAddress
	}
	if u.RecipientAddress != nil {
		set["recipient_address"] = *u.RecipientAddress
	}
	if u.ExpectedAmountLamports != nil {
		set["expected_amount_lamports"] = *u.ExpectedAmountLamports
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.PayerUserID != nil {
		set["payer_user_id"] = *u.PayerUserID
	}
	if u.PayeeUserID != nil {
		set["payee_user_id"] = *u.PayeeUserID
	}
	if u.SenderClaimedAt != nil {
		set["sender_claimed_at"] = types.EpochMillis(*u.SenderClaimedAt)
	}
	if u.RecipientClaimedAt != nil {
		set["recipient_claimed_at"] = types.EpochMillis(*u.RecipientClaimedAt)
	}
	if u.JoinTokenHash != nil {
		set["join_token_hash"] = *u.JoinTokenHash
	}
	if u.JoinExpiresAt != nil {
		set["join_expires_at"] = types.EpochMillis(*u.JoinExpiresAt)
	}
	if u.InviteTokenHash != nil {
		set["invite_token_hash"] = *u.InviteTokenHash
	}
	if u.InviteExpiresAt != nil {
		set["invite_expires_at"] = types.EpochMillis(*u.InviteExpiresAt)
	}
	if u.InviteUsedAt != nil {
		set["invite_used_at"] = types.EpochMillis(*u.InviteUsedAt)
	}
	if u.AcceptedAt != nil {
		set["accepted_at"] = types.EpochMillis(*u.AcceptedAt)
	}
	if u.FundedAt != nil {
		set["funded_at"] = types.EpochMillis(*u.FundedAt)
	}
	if u.ServiceMarkedCompleteAt != nil {
		set["service_marked_complete_at"] = types.EpochMillis(*u.ServiceMarkedCompleteAt)
	}
	if u.DisputedAt != nil {
		set["disputed_at"] = types.EpochMillis(*u.DisputedAt)
	}
	if u.DisputeReason != nil {
		set["dispute_reason"] = *u.DisputeReason
	}
	if u.FinalizeNonce != nil {
		set["finalize_nonce"] = *u.FinalizeNonce
	}
	if u.LastIntentHash != nil {
		set["last_intent_hash"] = *u.LastIntentHash
	}
	if u.SettledSignature != nil {
		set["settled_signature"] = *u.SettledSignature
	}
	if u.FailureReason != nil {
		set["failure_reason"] = *u.FailureReason
	}
	return set
}

func escrowToDoc(e *types.Escrow) *escrowDoc {
	return &escrowDoc{
		ID:                      e.ID,
		PublicID:                e.PublicID,
		PublicKey:               e.PublicKey,
		SecretKey:               e.SecretKey,
		Label:                   e.Label,
		SenderAddress:           e.SenderAddress,
		RecipientAddress:        e.RecipientAddress,
		ExpectedAmountLamports:  e.ExpectedAmountLamports,
		Status:                  string(e.Status),
		CreatorUserID:           e.CreatorUserID,
		PayerUserID:             e.PayerUserID,
		PayeeUserID:             e.PayeeUserID,
		SenderClaimedAt:         msOrZero(e.SenderClaimedAt),
		RecipientClaimedAt:      msOrZero(e.RecipientClaimedAt),
		JoinTokenHash:           e.JoinTokenHash,
		JoinExpiresAt:           msOrZero(e.JoinExpiresAt),
		InviteTokenHash:         e.InviteTokenHash,
		InviteExpiresAt:         msOrZero(e.InviteExpiresAt),
		InviteUsedAt:            msOrZero(e.InviteUsedAt),
		AcceptedAt:              msOrZero(e.AcceptedAt),
		FundedAt:                msOrZero(e.FundedAt),
		ServiceMarkedCompleteAt: msOrZero(e.ServiceMarkedCompleteAt),
		DisputedAt:              msOrZero(e.DisputedAt),
		DisputeReason:           e.DisputeReason,
		FinalizeNonce:           e.FinalizeNonce,
		LastIntentHash:          e.LastIntentHash,
		SettledSignature:        e.SettledSignature,
		FailureReason:           e.FailureReason,
		Version:                 e.Version,
		CreatedAt:               types.EpochMillis(e.CreatedAt),
		UpdatedAt:               types.EpochMillis(e.UpdatedAt),
	}
}

func escrowFromDoc(d *escrowDoc) *types.Escrow {
	return &types.Escrow{
		ID:                      d.ID,
		PublicID:                d.PublicID,
		PublicKey:               d.PublicKey,
		SecretKey:               d.SecretKey,
		Label:                   d.Label,
		SenderAddress:           d.SenderAddress,
		RecipientAddress:        d.RecipientAddress,
		ExpectedAmountLamports:  d.ExpectedAmountLamports,
		Status:                  types.Status(d.Status),
		CreatorUserID:           d.CreatorUserID,
		PayerUserID:             d.PayerUserID,
		PayeeUserID:             d.PayeeUserID,
		SenderClaimedAt:         timeOrNil(d.SenderClaimedAt),
		RecipientClaimedAt:      timeOrNil(d.RecipientClaimedAt),
		JoinTokenHash:           d.JoinTokenHash,
		JoinExpiresAt:           timeOrNil(d.JoinExpiresAt),
		InviteTokenHash:         d.InviteTokenHash,
		InviteExpiresAt:         timeOrNil(d.InviteExpiresAt),
		InviteUsedAt:            timeOrNil(d.InviteUsedAt),
		AcceptedAt:              timeOrNil(d.AcceptedAt),
		FundedAt:                timeOrNil(d.FundedAt),
		ServiceMarkedCompleteAt: timeOrNil(d.ServiceMarkedCompleteAt),
		DisputedAt:              timeOrNil(d.DisputedAt),
		DisputeReason:           d.DisputeReason,
		FinalizeNonce:           d.FinalizeNonce,
		LastIntentHash:          d.LastIntentHash,
		SettledSignature:        d.SettledSignature,
		FailureReason:           d.FailureReason,
		Version:                 d.Version,
		CreatedAt:               types.FromEpochMillis(d.CreatedAt),
		UpdatedAt:               types.FromEpochMillis(d.UpdatedAt),
	}
}

func transactionToDoc(t *types.Transaction) *transactionDoc {
	return &transactionDoc{
		ID:                   t.ID,
		EscrowID:             t.EscrowID,
		Signature:            t.Signature,
		Type:                 string(t.Type),
		AmountLamports:       t.AmountLamports,
		FromAddress:          t.FromAddress,
		ToAddress:            t.ToAddress,
		Status:               t.Status,
		IntentHash:           t.IntentHash,
		CommitmentTarget:     t.CommitmentTarget,
		LastValidBlockHeight: t.LastValidBlockHeight,
		RPCEndpoint:          t.RPCEndpoint,
		RawError:             t.RawError,
		Memo:                 t.Memo,
		RecordedAt:           types.EpochMillis(t.RecordedAt),
	}
}

func transactionFromDoc(d *transactionDoc) *types.Transaction {
	return &types.Transaction{
		ID:                   d.ID,
		EscrowID:             d.EscrowID,
		Signature:            d.Signature,
		Type:                 types.TxType(d.Type),
		AmountLamports:       d.AmountLamports,
		FromAddress:          d.FromAddress,
		ToAddress:            d.ToAddress,
		Status:               d.Status,
		IntentHash:           d.IntentHash,
		CommitmentTarget:     d.CommitmentTarget,
		LastValidBlockHeight: d.LastValidBlockHeight,
		RPCEndpoint:          d.RPCEndpoint,
		RawError:             d.RawError,
		Memo:                 d.Memo,
		RecordedAt:           types.FromEpochMillis(d.RecordedAt),
	}
}

func msOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return types.EpochMillis(*t)
}

func timeOrNil(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := types.FromEpochMillis(ms)
	return &t
}

var _ Store = (*Mongo)(nil)
