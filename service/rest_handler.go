package service

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// AdminHandler is the REST diagnostics surface of a node. It exposes
// the node's identity and routing table and lets an operator trigger
// a liveness probe by hand.
type AdminHandler interface {
	// GetStatus returns the node identity, bind address and routing
	// table totals with status 200.
	GetStatus(w http.ResponseWriter, r *http.Request)

	// GetTable returns the full per-bucket routing table snapshot with
	// status 200, or 503 when the node is already shutting down.
	GetTable(w http.ResponseWriter, r *http.Request)

	// PostPing queues a ping to the address in the request body. It
	// returns 202 once queued, 400 for an unresolvable address and
	// 503 when the command could not be queued.
	PostPing(w http.ResponseWriter, r *http.Request)
}

// NodeAdminHandler implements AdminHandler on top of a running node.
// All routing table reads go through the driver's command channel, so
// the handler never touches the table directly.
type NodeAdminHandler struct {
	node *Node
}

// CreateAdminRouter sets up routes and middlewares for the admin
// surface of the given node and returns the multiplexer.
func CreateAdminRouter(node *Node) *chi.Mux {
	handler := &NodeAdminHandler{node: node}
	adminRouter := chi.NewRouter()
	adminRouter.Use(
		render.SetContentType(render.ContentTypeJSON),
		middleware.Recoverer,
		middleware.Timeout(10*time.Second),
	)
	adminRouter.Get("/status", handler.GetStatus)
	adminRouter.Get("/table", handler.GetTable)
	adminRouter.Post("/ping", handler.PostPing)
	return adminRouter
}

// contactView is the JSON rendering of a table contact.
type contactView struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// bucketView is the JSON rendering of one bucket.
type bucketView struct {
	CanSplit bool          `json:"can_split"`
	Contacts []contactView `json:"contacts"`
}

// GetStatus returns the node's identity, bind address and table totals.
func (h *NodeAdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.node.TableSnapshot()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	render.JSON(w, r, struct {
		NodeID       string `json:"node_id"`
		Address      string `json:"address"`
		BucketCount  int    `json:"bucket_count"`
		ContactCount int    `json:"contact_count"`
		NextToSplit  int    `json:"next_to_split"`
	}{
		NodeID:       h.node.Identity().String(),
		Address:      h.node.LocalAddr().String(),
		BucketCount:  len(snapshot.Buckets),
		ContactCount: snapshot.ContactCount,
		NextToSplit:  snapshot.NextToSplit,
	})
}

// GetTable returns the per-bucket contents of the routing table.
func (h *NodeAdminHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.node.TableSnapshot()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	buckets := make([]bucketView, 0, len(snapshot.Buckets))
	for _, bucket := range snapshot.Buckets {
		view := bucketView{CanSplit: bucket.CanSplit, Contacts: make([]contactView, 0, len(bucket.Contacts))}
		for _, contact := range bucket.Contacts {
			view.Contacts = append(view.Contacts, contactView{
				ID:      contact.ID.String(),
				Address: contact.Addr.String(),
			})
		}
		buckets = append(buckets, view)
	}
	render.JSON(w, r, buckets)
}

// PostPing queues a liveness probe to the address given in the body.
func (h *NodeAdminHandler) PostPing(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Address string `json:"address"`
	}
	if decodeErr := render.DecodeJSON(r.Body, &request); decodeErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	target, resolveErr := net.ResolveUDPAddr("udp", request.Address)
	if resolveErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !h.node.enqueueCommand(PingCommand{Target: target}) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	log.Printf("Queued admin ping to %s", target)
	w.WriteHeader(http.StatusAccepted)
}
