package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/flashsync/internal/conflict"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/types"
)

// CardSetAPI is the remote surface for card sets.
type CardSetAPI interface {
	ListCardSets(ctx context.Context) ([]types.CardSet, error)
	GetCardSet(ctx context.Context, id string) (types.CardSet, error)
	CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error)
	UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error)
	DeleteCardSet(ctx context.Context, id string) error
}

// CardSets is the offline-first store for card sets.
type CardSets = Store[types.CardSet, types.CardSetInput, types.CardSetPatch]

// NewCardSets creates the card set store.
func NewCardSets(s store.Store, q Queue, conn Connectivity, api CardSetAPI, opts ...Option) *CardSets {
	return newStore[types.CardSet, types.CardSetInput, types.CardSetPatch](cardSetAdapter{api: api}, s, q, conn, opts...)
}

type cardSetAdapter struct {
	api CardSetAPI
}

func (cardSetAdapter) Kind() types.EntityKind       { return types.EntityCardSet }
func (cardSetAdapter) Collection() store.Collection { return store.CollectionCardSets }

func (cardSetAdapter) Build(id string, in types.CardSetInput, now time.Time) types.CardSet {
	return types.NewCardSet(id, in, now)
}

func (cardSetAdapter) Apply(cs types.CardSet, patch types.CardSetPatch, now time.Time) types.CardSet {
	return patch.Apply(cs, now)
}

func (cardSetAdapter) Resolve(local, remote types.CardSet, now time.Time) conflict.Result[types.CardSet] {
	return conflict.Resolve(local, remote, now, conflict.MergeCardSets)
}

func (cardSetAdapter) Seed(now time.Time) []types.CardSet {
	return SampleCardSets(now)
}

func (a cardSetAdapter) List(ctx context.Context) ([]types.CardSet, error) {
	return a.api.ListCardSets(ctx)
}

func (a cardSetAdapter) Get(ctx context.Context, id string) (types.CardSet, error) {
	return a.api.GetCardSet(ctx, id)
}

func (a cardSetAdapter) Create(ctx context.Context, in types.CardSetInput) (types.CardSet, error) {
	return a.api.CreateCardSet(ctx, in)
}

func (a cardSetAdapter) Update(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error) {
	return a.api.UpdateCardSet(ctx, id, cs)
}

func (a cardSetAdapter) Delete(ctx context.Context, id string) error {
	return a.api.DeleteCardSet(ctx, id)
}

func (cardSetAdapter) CreateOp(tempID string, in types.CardSetInput) types.Payload {
	return types.CreateCardSet{TempID: tempID, Input: in}
}

func (cardSetAdapter) UpdateOp(cs types.CardSet) types.Payload {
	return types.UpdateCardSet{CardSet: cs}
}

func (cardSetAdapter) DeleteOp(id string) types.Payload {
	return types.DeleteCardSet{ID: id}
}

// SampleCardSets returns the built-in card sets shown before anything has
// been cached.
func SampleCardSets(now time.Time) []types.CardSet {
	day := 24 * time.Hour
	sample := func(id, title, description string, age time.Duration, terms ...[2]string) types.CardSet {
		cards := make([]types.Card, len(terms))
		for i, t := range terms {
			cards[i] = types.Card{ID: fmt.Sprintf("%s-card-%d", id, i+1), Terminology: t[0], Define: t[1]}
		}
		at := now.Add(-age)
		return types.CardSet{
			ID:          id,
			Title:       title,
			Description: description,
			Cards:       cards,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	}

	return []types.CardSet{
		sample("cardset-sample-1", "English Vocabulary - Level 1", "Basic English vocabulary for beginners", 7*day,
			[2]string{"Hello", "Xin chào"},
			[2]string{"Goodbye", "Tạm biệt"},
			[2]string{"Thank you", "Cảm ơn"},
			[2]string{"Please", "Làm ơn"},
			[2]string{"Sorry", "Xin lỗi"},
			[2]string{"Yes", "Có"},
			[2]string{"No", "Không"},
			[2]string{"Good morning", "Chào buổi sáng"},
			[2]string{"Good night", "Chúc ngủ ngon"},
			[2]string{"How are you?", "Bạn khỏe không?"},
		),
		sample("cardset-sample-2", "Programming Terms", "Common programming terminology", 5*day,
			[2]string{"Variable", "Biến"},
			[2]string{"Function", "Hàm"},
			[2]string{"Array", "Mảng"},
			[2]string{"Object", "Đối tượng"},
			[2]string{"Loop", "Vòng lặp"},
			[2]string{"Condition", "Điều kiện"},
			[2]string{"Class", "Lớp"},
			[2]string{"Method", "Phương thức"},
			[2]string{"Interface", "Giao diện"},
			[2]string{"Algorithm", "Thuật toán"},
		),
		sample("cardset-sample-3", "Math Formulas", "Essential mathematical formulas", 3*day,
			[2]string{"a² + b² = c²", "Pythagorean theorem"},
			[2]string{"E = mc²", "Energy-mass equivalence"},
			[2]string{"∫ f(x) dx", "Integral"},
			[2]string{"d/dx", "Derivative"},
			[2]string{"π ≈ 3.14159", "Pi constant"},
			[2]string{"e ≈ 2.71828", "Euler's number"},
		),
	}
}
