package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/zombor/shop-scanner/internal/cart"
	"github.com/zombor/shop-scanner/internal/recordstore"
	"github.com/zombor/shop-scanner/internal/scan"
	"github.com/zombor/shop-scanner/internal/session"
)

const seedDocs = `{
	"4001": {"price": "12.50", "information": "Oat milk", "cbzh": "fat 1.5g", "energyprice": "46kcal", "extraqr": false},
	"4002": {"price": "5.00", "information": "Red wine", "extraqr": true, "extraqrcode": "XYZ"}
}`

var _ = Describe("Integration", func() {
	var (
		db       *recordstore.Bolt
		shopper  *session.Session
		server   *session.Server
		ghServer *ghttp.Server
	)

	post := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ghServer.URL()+path, "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		var err error
		db, err = recordstore.NewBolt(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		n, err := recordstore.Seed(context.Background(), db, scan.DefaultCollection, strings.NewReader(seedDocs))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		shopper = session.New(db, session.Config{})
		server = session.NewServer(shopper)
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		shopper.Close()
		db.Close()
	})

	It("should scan products, confirm the gated one, and total the cart", func() {
		// One handler per request
		for range 6 {
			ghServer.AppendHandlers(server.ServeHTTP)
		}

		// --- Step 1: plain product ---
		resp := post("/api/scans", map[string]string{"code": "4001"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = post("/api/cart", map[string]string{"code": "4001"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		// --- Step 2: product behind a secondary code ---
		resp = post("/api/scans", map[string]string{"code": "4002"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = post("/api/cart", map[string]string{"code": "4002"})
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		var attempt cart.Attempt
		Expect(json.NewDecoder(resp.Body).Decode(&attempt)).To(Succeed())
		resp.Body.Close()
		Expect(attempt.Record.SecondaryCode).To(Equal("XYZ"))

		// --- Step 3: secondary scan ---
		resp = post("/api/confirmations/"+attempt.ID, map[string]string{"code": "XYZ"})
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		// --- Step 4: cart ---
		resp, err := http.Get(ghServer.URL() + "/api/cart")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body struct {
			Lines []cart.Line `json:"lines"`
			Total string      `json:"total"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.Lines).To(HaveLen(2))
		Expect(body.Lines[0].Code).To(Equal("4001"))
		Expect(body.Lines[0].NutritionSummary).To(Equal("fat 1.5g"))
		Expect(body.Lines[1].Code).To(Equal("4002"))
		Expect(body.Total).To(Equal("17.5"))
	})
})
