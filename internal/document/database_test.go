package document

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newDocument := func(id string) *Document {
		decided := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)
		return &Document{
			ID:           id,
			Title:        "Test Receipt",
			Vendor:       "Staples",
			Category:     "Office",
			Amount:       decimal.RequireFromString("25.99"),
			Date:         time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Status:       StatusApproved,
			UserID:       "emp-1",
			UserRole:     RoleEmployee,
			ImageRef:     id + "_receipt.jpg",
			DecidedBy:    "acct-1",
			DecidedAt:    &decided,
			CreatedAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			UpdatedAt:    time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
			ThumbnailRef: id + "_thumb.jpg",
		}
	}

	Describe("SaveDocument", func() {
		var (
			doc *Document
			err error
		)

		BeforeEach(func() {
			doc = newDocument("test-id")
		})

		JustBeforeEach(func() {
			err = db.SaveDocument(doc)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep every field", func() {
				saved, getErr := db.GetDocument("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Title).To(Equal(doc.Title))
				Expect(saved.Amount.Equal(doc.Amount)).To(BeTrue())
				Expect(saved.Date.Equal(doc.Date)).To(BeTrue())
				Expect(saved.Status).To(Equal(StatusApproved))
				Expect(saved.DecidedAt.Equal(*doc.DecidedAt)).To(BeTrue())
				Expect(saved.ThumbnailRef).To(Equal("test-id_thumb.jpg"))
			})
		})

		When("the document already exists", func() {
			BeforeEach(func() {
				Expect(db.SaveDocument(newDocument("test-id"))).To(Succeed())
				doc.Title = "Updated"
			})

			It("replaces it", func() {
				saved, getErr := db.GetDocument("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Title).To(Equal("Updated"))
				docs, listErr := db.ListDocuments()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(1))
			})
		})
	})

	Describe("GetDocument", func() {
		When("the document does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetDocument("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListDocuments", func() {
		When("the database is empty", func() {
			It("returns an empty slice", func() {
				docs, err := db.ListDocuments()
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).NotTo(BeNil())
				Expect(docs).To(BeEmpty())
			})
		})

		When("documents exist", func() {
			BeforeEach(func() {
				Expect(db.SaveDocument(newDocument("a"))).To(Succeed())
				Expect(db.SaveDocument(newDocument("b"))).To(Succeed())
			})

			It("returns all of them", func() {
				docs, err := db.ListDocuments()
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(2))
			})
		})
	})

	Describe("DeleteDocument", func() {
		BeforeEach(func() {
			Expect(db.SaveDocument(newDocument("a"))).To(Succeed())
		})

		It("removes the document", func() {
			Expect(db.DeleteDocument("a")).To(Succeed())
			_, err := db.GetDocument("a")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for missing documents", func() {
			Expect(db.DeleteDocument("missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("uploads", func() {
		var upload *Upload

		BeforeEach(func() {
			upload = &Upload{
				ImageRef:     "u_receipt.jpg",
				ThumbnailRef: "u_thumb.jpg",
				UserID:       "emp-1",
				CreatedAt:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			}
			Expect(db.SaveUpload(upload)).To(Succeed())
		})

		It("finds the upload by either reference", func() {
			for _, ref := range []string{"u_receipt.jpg", "u_thumb.jpg"} {
				got, err := db.GetUpload(ref)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ImageRef).To(Equal("u_receipt.jpg"))
				Expect(got.UserID).To(Equal("emp-1"))
				Expect(got.CreatedAt.Equal(upload.CreatedAt)).To(BeTrue())
			}
		})

		It("keeps uploads apart from documents", func() {
			docs, err := db.ListDocuments()
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})

		It("removes every reference on delete", func() {
			Expect(db.DeleteUpload(upload)).To(Succeed())
			_, err := db.GetUpload("u_receipt.jpg")
			Expect(err).To(MatchError(ErrNotFound))
			_, err = db.GetUpload("u_thumb.jpg")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("stores uploads without a thumbnail under the image alone", func() {
			Expect(db.SaveUpload(&Upload{ImageRef: "plain.pdf", UserID: "emp-2"})).To(Succeed())
			got, err := db.GetUpload("plain.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ThumbnailRef).To(BeEmpty())
			_, err = db.GetUpload("")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Reopening", func() {
		It("keeps saved documents", func() {
			Expect(db.SaveDocument(newDocument("persisted"))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			doc, err := db.GetDocument("persisted")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Vendor).To(Equal("Staples"))
		})
	})
})
