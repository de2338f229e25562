package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rongwang/bytebank/internal/utils"
	"go.etcd.io/bbolt"
)

// ClientCookieName identifies a browser so it gets its own local storage.
const ClientCookieName = "bytebank_client"

const clientCookieMaxAge = 365 * 24 * 60 * 60

// Origin builds session managers for one application served over HTTP.
// Every browser gets a private local storage inside the application's bolt
// file, the way a browser keeps one localStorage per origin.
type Origin struct {
	name   string
	db     *bbolt.DB
	store  Store
	policy CookiePolicy
	secret string
	log    *utils.Logger
	opts   []Option
}

func NewOrigin(name string, db *bbolt.DB, store Store, policy CookiePolicy, secret string, logger *utils.Logger, opts ...Option) *Origin {
	return &Origin{
		name:   name,
		db:     db,
		store:  store,
		policy: policy,
		secret: secret,
		log:    logger.WithField("origin", name),
		opts:   opts,
	}
}

// Name returns the application name the origin was created with.
func (o *Origin) Name() string {
	return o.name
}

// Manager returns the session manager for the browser behind jar, issuing
// a client cookie on its first visit.
func (o *Origin) Manager(jar CookieJar) *Manager {
	id, ok := jar.Cookie(ClientCookieName)
	if _, err := uuid.Parse(id); !ok || err != nil {
		id = uuid.New().String()
		jar.SetCookie(&http.Cookie{
			Name:     ClientCookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   clientCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   o.policy.Environment == Production,
		})
	}

	local := NewBoltStorage(o.db, o.name+"/"+id)
	return NewManager(local, o.store, o.policy, o.secret, o.log, o.opts...)
}
