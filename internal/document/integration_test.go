package document_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-flow/internal/document"
	"github.com/zombor/receipt-flow/internal/identity"
	"github.com/zombor/receipt-flow/internal/scanning"
)

// stubRecognizer returns canned receipt text
type stubRecognizer struct {
	text string
}

func (s *stubRecognizer) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	return s.text, nil
}

func (s *stubRecognizer) Close() error {
	return nil
}

func receiptPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1600, 1200))
	for y := 0; y < 1200; y += 4 {
		for x := 0; x < 1600; x += 4 {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		db       *document.BoltDB
		storage  *document.LocalStorage
		tokens   *identity.JWT
		server   *document.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = document.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		storage, err = document.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		tokens, err = identity.NewJWT("integration-secret-0123456789")
		Expect(err).NotTo(HaveOccurred())

		engine := scanning.NewEngine(&stubRecognizer{
			text: "STAPLES\nStore #1234\nDate: 03/01/2024\nSubtotal $39.00\nTax $3.50\nTotal: $42.50\n",
		}, scanning.Config{})

		service := document.NewService(document.NewStore(db), engine, storage)
		server = document.NewServer(service, tokens)

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	tokenFor := func(id document.Identity) string {
		t, err := tokens.Issue(id, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	send := func(req *http.Request, token string) *http.Response {
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	It("scans, submits and approves a receipt end to end", func() {
		// scan, submit, approve by employee, approve by accountant, list
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		employee := tokenFor(document.Identity{UserID: "emp-1", Name: "Erin", Role: document.RoleEmployee})
		accountant := tokenFor(document.Identity{UserID: "acct-1", Name: "Avery", Role: document.RoleAccountant})

		// --- Step 1: Scan Request ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(receiptPNG())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/scans", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp := send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var draft document.Draft
		Expect(json.NewDecoder(resp.Body).Decode(&draft)).To(Succeed())
		Expect(draft.OCRAvailable).To(BeTrue())
		Expect(draft.Fields.Vendor).To(Equal("STAPLES"))
		Expect(draft.Fields.Amount.String()).To(Equal("42.5"))
		Expect(draft.Fields.Date).To(Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

		// Image and thumbnail are stored, nothing is recorded yet
		_, err = storage.Get(draft.ImageRef)
		Expect(err).NotTo(HaveOccurred())
		Expect(draft.ThumbnailRef).NotTo(BeEmpty())
		docs, err := db.ListDocuments()
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(BeEmpty())

		// --- Step 2: Submit Request ---
		// The draft's fields go back as the client received them
		fields, err := json.Marshal(draft.Fields)
		Expect(err).NotTo(HaveOccurred())
		var submission map[string]any
		Expect(json.Unmarshal(fields, &submission)).To(Succeed())
		submission["category"] = "Office"
		submission["image_ref"] = draft.ImageRef
		submission["thumbnail_ref"] = draft.ThumbnailRef
		payload, err := json.Marshal(submission)
		Expect(err).NotTo(HaveOccurred())
		req, err = http.NewRequest(http.MethodPost, ghServer.URL()+"/api/documents", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp = send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created struct {
			ID       string            `json:"id"`
			Document document.Document `json:"document"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.Document.Status).To(Equal(document.StatusPending))
		Expect(created.Document.Date).To(Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
		Expect(created.Document.ThumbnailRef).To(Equal(draft.ThumbnailRef))

		// --- Step 3: the submitter cannot approve ---
		req, err = http.NewRequest(http.MethodPost, ghServer.URL()+"/api/documents/"+created.ID+"/approve", nil)
		Expect(err).NotTo(HaveOccurred())
		resp = send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

		// --- Step 4: the accountant approves ---
		req, err = http.NewRequest(http.MethodPost, ghServer.URL()+"/api/documents/"+created.ID+"/approve", nil)
		Expect(err).NotTo(HaveOccurred())
		resp = send(req, accountant)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		saved, err := db.GetDocument(created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Status).To(Equal(document.StatusApproved))
		Expect(saved.DecidedBy).To(Equal("acct-1"))

		// --- Step 5: the employee sees the approved document ---
		req, err = http.NewRequest(http.MethodGet, ghServer.URL()+"/api/documents?status=approved", nil)
		Expect(err).NotTo(HaveOccurred())
		resp = send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var listed []*document.Document
		Expect(json.NewDecoder(resp.Body).Decode(&listed)).To(Succeed())
		Expect(listed).To(HaveLen(1))
		Expect(listed[0].ID).To(Equal(created.ID))
	})

	It("keeps a scan private to its uploader", func() {
		// scan, coworker fetch, coworker submit, uploader fetch
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		employee := tokenFor(document.Identity{UserID: "emp-1", Name: "Erin", Role: document.RoleEmployee})
		coworker := tokenFor(document.Identity{UserID: "emp-2", Name: "Sam", Role: document.RoleEmployee})

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(receiptPNG())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/scans", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp := send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var draft document.Draft
		Expect(json.NewDecoder(resp.Body).Decode(&draft)).To(Succeed())

		req, err = http.NewRequest(http.MethodGet, ghServer.URL()+"/api/images/"+draft.ImageRef, nil)
		Expect(err).NotTo(HaveOccurred())
		resp = send(req, coworker)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		payload, err := json.Marshal(map[string]any{
			"vendor": "Taken", "amount": "1", "image_ref": draft.ImageRef,
		})
		Expect(err).NotTo(HaveOccurred())
		req, err = http.NewRequest(http.MethodPost, ghServer.URL()+"/api/documents", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp = send(req, coworker)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

		req, err = http.NewRequest(http.MethodGet, ghServer.URL()+"/api/images/"+draft.ThumbnailRef, nil)
		Expect(err).NotTo(HaveOccurred())
		resp = send(req, employee)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
	})

	It("rejects requests carrying a token signed with another secret", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		other, err := identity.NewJWT("another-secret-0123456789abcdef")
		Expect(err).NotTo(HaveOccurred())
		forged, err := other.Issue(document.Identity{UserID: "x", Role: document.RoleAdmin}, time.Hour)
		Expect(err).NotTo(HaveOccurred())

		req, err := http.NewRequest(http.MethodGet, ghServer.URL()+"/api/documents", nil)
		Expect(err).NotTo(HaveOccurred())
		resp := send(req, forged)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})
})
