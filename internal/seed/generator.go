// Package seed fills an empty account with realistic sample data.
package seed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
)

// Days is how far back generated history reaches.
const Days = 90

// Weighted is a value with a relative weight.
type Weighted[T any] struct {
	Value  T
	Weight int
}

// Choose picks a value with probability proportional to its weight.
func Choose[T any](rng *rand.Rand, items []Weighted[T]) T {
	total := 0
	for _, it := range items {
		total += it.Weight
	}
	n := rng.IntN(total)
	for _, it := range items {
		if n < it.Weight {
			return it.Value
		}
		n -= it.Weight
	}
	return items[len(items)-1].Value
}

type category struct {
	name     string
	min, max int64 // minor units
	labels   []string
}

var expenseCategories = []Weighted[category]{
	{category{"Alimentação", 1500, 25000, []string{"Supermercado", "Restaurante", "Padaria", "Delivery"}}, 30},
	{category{"Transporte", 500, 15000, []string{"Combustível", "Uber", "Ônibus", "Estacionamento"}}, 20},
	{category{"Moradia", 8000, 180000, []string{"Aluguel", "Condomínio", "Energia", "Internet"}}, 15},
	{category{"Lazer", 2000, 30000, []string{"Cinema", "Streaming", "Show", "Viagem"}}, 12},
	{category{"Saúde", 3000, 40000, []string{"Farmácia", "Consulta", "Academia"}}, 10},
	{category{"Educação", 5000, 60000, []string{"Curso online", "Livros", "Mensalidade"}}, 8},
	{category{"Compras", 2000, 50000, []string{"Roupas", "Eletrônicos", "Presentes"}}, 5},
}

var incomeCategories = []Weighted[category]{
	{category{"Salário", 350000, 800000, []string{"Salário mensal"}}, 60},
	{category{"Freelance", 30000, 200000, []string{"Projeto freelance", "Consultoria"}}, 25},
	{category{"Investimentos", 5000, 50000, []string{"Rendimentos", "Dividendos"}}, 10},
	{category{"Outros", 2000, 30000, []string{"Reembolso", "Transferência recebida"}}, 5},
}

// Services is the fixed list shown in the dashboard's services menu.
var Services = []models.Service{
	{ID: "emprestimo", Name: "Empréstimo", Icon: "loan"},
	{ID: "meus-cartoes", Name: "Meus cartões", Icon: "card"},
	{ID: "doacoes", Name: "Doações", Icon: "donation"},
	{ID: "pix", Name: "Pix", Icon: "pix"},
	{ID: "seguros", Name: "Seguros", Icon: "insurance"},
	{ID: "credito-celular", Name: "Crédito celular", Icon: "phone"},
}

// Generator populates accounts that have no transactions yet.
type Generator struct {
	engine       *ledger.Engine
	transactions store.Records[models.Transaction]
	services     store.Records[models.Service]
	seed         uint64
	now          func() time.Time
	log          *utils.Logger
}

// NewGenerator creates a generator. The same seed and clock produce the same data.
func NewGenerator(db store.DB, engine *ledger.Engine, seed uint64, logger *utils.Logger) *Generator {
	return &Generator{
		engine:       engine,
		transactions: store.NewRecords[models.Transaction](db, store.Transactions),
		services:     store.NewRecords[models.Service](db, store.Services),
		seed:         seed,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger.WithField("component", "seed"),
	}
}

// SetClock overrides the reference date generation counts back from.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Populate writes sample history for the account unless it already has
// transactions. It returns the number of transactions written.
func (g *Generator) Populate(ctx context.Context, accountID string) (int, error) {
	written := 0
	account, err := g.engine.Batch(ctx, accountID, func(tx store.Tx) error {
		existing, err := g.transactions.In(tx).GetAllByIndex("accountId", accountID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		for i := range Services {
			if err := g.services.In(tx).Put(&Services[i]); err != nil {
				return err
			}
		}

		for _, t := range g.Generate(accountID) {
			if err := g.transactions.In(tx).Add(&t); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("populate account %s: %w", accountID, err)
	}

	if written > 0 && account != nil {
		g.log.WithField("account", accountID).Info("seeded %d transactions, balance %d", written, account.Balance)
	}
	return written, nil
}

// Generate builds the transactions without writing them.
func (g *Generator) Generate(accountID string) []models.Transaction {
	h := fnv.New64a()
	h.Write([]byte(accountID))
	rng := rand.New(rand.NewPCG(g.seed, h.Sum64()))
	today := g.now().Truncate(24 * time.Hour)

	var txs []models.Transaction
	for d := Days - 1; d >= 0; d-- {
		day := today.AddDate(0, 0, -d)

		incomeChance := 0.15
		if day.Day() <= 5 {
			incomeChance = 0.7
		}
		if rng.Float64() < incomeChance {
			txs = append(txs, g.transaction(rng, accountID, day, models.TransactionDeposit, Choose(rng, incomeCategories)))
		}

		for n := rng.IntN(3); n > 0; n-- {
			txs = append(txs, g.transaction(rng, accountID, day, models.TransactionWithdrawal, Choose(rng, expenseCategories)))
		}
	}
	return txs
}

func (g *Generator) transaction(rng *rand.Rand, accountID string, day time.Time, txType string, c category) models.Transaction {
	value := c.min + rng.Int64N(c.max-c.min+1)
	if txType == models.TransactionWithdrawal {
		value = -value
	}

	var id uuid.UUID
	for i := range id {
		id[i] = byte(rng.Uint32())
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80

	return models.Transaction{
		ID:          id.String(),
		AccountID:   accountID,
		Type:        txType,
		Value:       value,
		Date:        day.Format(models.DateLayout),
		Category:    c.name,
		Description: c.labels[rng.IntN(len(c.labels))],
	}
}
