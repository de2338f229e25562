package store

// Collection names.
const (
	Users          = "users"
	Accounts       = "accounts"
	Transactions   = "transactions"
	FinancialGoals = "financial-goals"
	Attachments    = "attachments"
	Sessions       = "sessions"
	Services       = "services"
)

// Migrations is the versioned application schema. Steps are additive only:
// a released step is never edited, new structure goes in a new version.
var Migrations = []Migration{
	{
		Version: 1,
		Apply: func(m Migrator) error {
			for _, spec := range []CollectionSpec{
				{Name: Users, KeyPath: "email"},
				{Name: Accounts, KeyPath: "id"},
				{Name: Transactions, KeyPath: "id"},
			} {
				if err := EnsureCollection(m, spec); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version: 2,
		Apply: func(m Migrator) error {
			return EnsureCollection(m, CollectionSpec{
				Name:    FinancialGoals,
				KeyPath: "id",
				Indexes: []IndexSpec{
					{Name: "category", KeyPath: "category"},
					{Name: "deadline", KeyPath: "deadline"},
				},
			})
		},
	},
	{
		Version: 3,
		Apply: func(m Migrator) error {
			err := EnsureCollection(m, CollectionSpec{
				Name:    Attachments,
				KeyPath: "id",
				Indexes: []IndexSpec{
					{Name: "transactionId", KeyPath: "transactionId"},
					{Name: "uploadDate", KeyPath: "uploadDate"},
					{Name: "fileType", KeyPath: "fileType"},
				},
			})
			if err != nil {
				return err
			}
			return EnsureIndex(m, Transactions, IndexSpec{Name: "accountId", KeyPath: "accountId"})
		},
	},
	{
		Version: 4,
		Apply: func(m Migrator) error {
			err := EnsureCollection(m, CollectionSpec{
				Name:    Sessions,
				KeyPath: "id",
				Indexes: []IndexSpec{
					{Name: "userId", KeyPath: "userId"},
					{Name: "expiresAt", KeyPath: "expiresAt"},
				},
			})
			if err != nil {
				return err
			}
			return EnsureCollection(m, CollectionSpec{Name: Services, KeyPath: "id"})
		},
	},
	{
		Version: 5,
		Apply: func(m Migrator) error {
			return EnsureIndex(m, Accounts, IndexSpec{Name: "userId", KeyPath: "userId"})
		},
	},
}

// SchemaVersion is the version the application expects on disk.
var SchemaVersion = TargetVersion(Migrations)
