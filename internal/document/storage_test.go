package document

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename string
			data     []byte
			ref      string
			err      error
		)

		BeforeEach(func() {
			filename = "test.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			ref, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the filename as reference", func() {
				Expect(ref).To(Equal(filename))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
			})
		})

		When("the name would escape the storage directory", func() {
			BeforeEach(func() {
				filename = "../outside.jpg"
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file reference")))
			})

			It("writes nothing outside", func() {
				Expect(filepath.Join(filepath.Dir(tmpDir), "outside.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is hidden", func() {
			BeforeEach(func() {
				filename = ".env"
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, "a.jpg"), []byte("abc"), 0644)).To(Succeed())
			})

			It("returns its contents", func() {
				data, err := storage.Get("a.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("abc")))
			})
		})

		When("the file does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get("missing.jpg")
				Expect(err).To(MatchError(ContainSubstring("reading file")))
			})
		})

		When("the reference contains a path", func() {
			It("returns an error", func() {
				_, err := storage.Get("sub/../../etc/passwd")
				Expect(err).To(MatchError(ContainSubstring("invalid file reference")))
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := storage.Save("gone.jpg", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the file", func() {
			Expect(storage.Delete("gone.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "gone.jpg")).NotTo(BeAnExistingFile())
		})

		It("returns an error for missing files", func() {
			Expect(storage.Delete("never.jpg")).To(MatchError(ContainSubstring("deleting file")))
		})
	})

	Describe("Resolve", func() {
		It("returns the image API path", func() {
			Expect(storage.Resolve("abc_receipt.jpg")).To(Equal("/api/images/abc_receipt.jpg"))
		})

		It("escapes the reference", func() {
			Expect(storage.Resolve("my receipt.jpg")).To(Equal("/api/images/my%20receipt.jpg"))
		})

		It("returns nothing for an empty reference", func() {
			Expect(storage.Resolve("")).To(BeEmpty())
		})
	})

	It("creates the base directory", func() {
		dir := filepath.Join(tmpDir, "nested", "images")
		_, err := NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(dir).To(BeADirectory())
	})
})
