package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/ribbonhq/ribbon/internal/adapters/signal"
	"github.com/ribbonhq/ribbon/internal/app/orch"
	"github.com/ribbonhq/ribbon/internal/config"
	"github.com/ribbonhq/ribbon/internal/domain"
	"github.com/ribbonhq/ribbon/internal/invite"
	"github.com/ribbonhq/ribbon/internal/store"
	"github.com/ribbonhq/ribbon/internal/turncred"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Cfg     *config.Config
	Orch    *orch.Orchestrator
	Store   *store.Store
	Invites *invite.Service
	Turn    *turncred.Generator
	Signal  *signal.Controller
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	cfg := d.Cfg
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RibbonSessions", sessStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.POST("/rooms", func(c *gin.Context) { createRoom(c, d) })
	api.GET("/rooms", func(c *gin.Context) { listRooms(c, d) })
	api.GET("/rooms/:id", func(c *gin.Context) { roomStatus(c, d) })
	api.POST("/rooms/:id/join", func(c *gin.Context) { preJoinRoom(c, d) })
	api.GET("/invite/:token", func(c *gin.Context) { resolveInvite(c, d) })

	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": d.Turn.ICEServers(c.GetString("client_token"))})
	})

	api.GET("/status", func(c *gin.Context) { status(c, d) })

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	return r
}

func createRoom(c *gin.Context, d Deps) {
	var req struct {
		Name            string `json:"name"`
		Passphrase      string `json:"passphrase"`
		RequireApproval bool   `json:"requireApproval"`
		MaxParticipants int    `json:"maxParticipants"`
	}
	if err := c.BindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid name"})
		return
	}
	if req.MaxParticipants <= 0 || req.MaxParticipants > d.Cfg.MaxParticipants {
		req.MaxParticipants = d.Cfg.MaxParticipants
	}

	var hash string
	if req.Passphrase != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(req.Passphrase), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hashing failed"})
			return
		}
		hash = string(b)
	}

	rec := store.RoomRecord{
		ID:              domain.RoomID(uuid.NewString()),
		Name:            req.Name,
		PassphraseHash:  hash,
		CreatedBy:       c.GetString("client_token"),
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(d.Cfg.RoomTTL),
		MaxParticipants: req.MaxParticipants,
		Status:          "active",
		RequireApproval: req.RequireApproval,
	}
	if err := d.Store.CreateRoom(c.Request.Context(), rec); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room creation failed"})
		return
	}

	token, err := d.Invites.Create(c.Request.Context(), rec.ID, true, d.Cfg.InviteTTL)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("mint invite")
	}

	log.Info().Str("module", "adapters.http").Str("room", string(rec.ID)).Str("name", req.Name).Msg("room created")
	c.JSON(http.StatusOK, gin.H{
		"roomId":          rec.ID,
		"name":            rec.Name,
		"invite":          token,
		"requireApproval": rec.RequireApproval,
		"maxParticipants": rec.MaxParticipants,
		"expiresAt":       rec.ExpiresAt.Unix(),
	})
}

func listRooms(c *gin.Context, d Deps) {
	recs, err := d.Store.ListActiveRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	type roomItem struct {
		RoomID          domain.RoomID `json:"roomId"`
		Name            string        `json:"name"`
		Locked          bool          `json:"locked"`
		RequireApproval bool          `json:"requireApproval"`
		PeerCount       int           `json:"peerCount"`
		MaxParticipants int           `json:"maxParticipants"`
	}
	items := make([]roomItem, 0, len(recs))
	for _, rec := range recs {
		count := 0
		if room, ok := d.Orch.Registry.Get(rec.ID); ok {
			count = room.PeerCount()
		}
		items = append(items, roomItem{
			RoomID:          rec.ID,
			Name:            rec.Name,
			Locked:          rec.PassphraseHash != "",
			RequireApproval: rec.RequireApproval,
			PeerCount:       count,
			MaxParticipants: rec.MaxParticipants,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": items})
}

func roomStatus(c *gin.Context, d Deps) {
	id := domain.RoomID(c.Param("id"))
	rec, found, err := d.Store.GetRoom(c.Request.Context(), id)
	if err != nil || !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	resp := gin.H{
		"roomId":          rec.ID,
		"name":            rec.Name,
		"status":          rec.Status,
		"locked":          rec.PassphraseHash != "",
		"requireApproval": rec.RequireApproval,
		"maxParticipants": rec.MaxParticipants,
		"peerCount":       0,
	}
	if room, ok := d.Orch.Registry.Get(id); ok {
		resp["peerCount"] = room.PeerCount()
		resp["peers"] = room.Peers()
		// Engine stats are decoration here; the page renders without them.
		if stats, serr := d.Orch.Engine.RoomStats(c.Request.Context(), id); serr == nil {
			resp["stats"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

// preJoinRoom checks the passphrase and capacity before the client opens
// the websocket, and records the cleared room in the cookie session.
func preJoinRoom(c *gin.Context, d Deps) {
	id := domain.RoomID(c.Param("id"))
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	_ = c.BindJSON(&req)

	rec, found, err := d.Store.GetRoom(c.Request.Context(), id)
	if err != nil || !found || rec.Status != "active" {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if rec.PassphraseHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(rec.PassphraseHash), []byte(req.Passphrase)) != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "wrong passphrase"})
			return
		}
	}
	if room, ok := d.Orch.Registry.Get(id); ok && rec.MaxParticipants > 0 && room.PeerCount() >= rec.MaxParticipants {
		c.JSON(http.StatusConflict, gin.H{"error": "room full"})
		return
	}

	sess := sessions.Default(c)
	sess.Set("room:"+string(id), true)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":          id,
		"requireApproval": rec.RequireApproval,
	})
}

func resolveInvite(c *gin.Context, d Deps) {
	roomID, err := d.Invites.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": string(domain.CodeOf(err))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}

func status(c *gin.Context, d Deps) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	engineUp := d.Orch.Engine.Ping(ctx) == nil
	peers := 0
	for _, info := range d.Orch.Registry.Snapshot() {
		peers += info.PeerCount
	}
	code := http.StatusOK
	if !engineUp {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"engine": engineUp,
		"rooms":  d.Orch.Registry.Len(),
		"peers":  peers,
	})
}
