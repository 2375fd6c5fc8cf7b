package record

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/scanning"
	"github.com/zombor/rx-tracker/internal/storage"
	"github.com/zombor/rx-tracker/internal/value"
)

var _ = Describe("Service", func() {
	var (
		kv         *memoryKV
		store      *storage.List[Document]
		files      *mockFiles
		preparer   *mockPreparer
		recognizer *mockRecognizer
		extractor  *mockExtractor
		idGen      *sequenceIDGenerator
		timeSrc    *fixedTimeSource
		service    *Service
		fixedTime  time.Time
	)

	BeforeEach(func() {
		kv = newMemoryKV()
		store = NewStore(kv)
		files = newMockFiles()
		files.files["scan.jpg"] = []byte("\xff\xd8\xff\xe0image")
		preparer = &mockPreparer{}
		recognizer = &mockRecognizer{
			result: scanning.Result{Text: "Take Metformin 500mg twice daily with food", Confidence: 0.66},
		}
		extractor = &mockExtractor{
			data: mustParse(`{"medication": "Metformin", "dosage": "500mg", "frequency": "twice daily"}`),
		}
		idGen = &sequenceIDGenerator{ids: []string{"doc-1", "doc-2", "doc-3"}}
		fixedTime = time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC)
		timeSrc = &fixedTimeSource{time: fixedTime}
		service = NewServiceWithDeps(store, files, preparer, recognizer, extractor, idGen, timeSrc)
	})

	Describe("ProcessDocument", func() {
		var (
			doc *Document
			err error
		)

		JustBeforeEach(func() {
			doc, err = service.ProcessDocument(context.Background(), "scan.jpg")
		})

		When("every stage succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should build the document", func() {
				Expect(doc.ID).To(Equal("doc-1"))
				Expect(doc.ExtractedText).To(Equal("Take Metformin 500mg twice daily with food"))
				Expect(doc.ImageRef).To(Equal("scan.jpg"))
				Expect(doc.CreatedAt).To(Equal(fixedTime))
				Expect(doc.Confidence).To(Equal(0.66))
			})

			It("should pass the recognized text to extraction", func() {
				Expect(extractor.texts).To(Equal([]string{"Take Metformin 500mg twice daily with food"}))
			})

			It("should send the default recognition hints", func() {
				Expect(recognizer.opts).To(Equal(scanning.DefaultOptions))
			})

			It("should store the document", func() {
				docs, listErr := service.ListDocuments()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(1))
				Expect(docs[0].ID).To(Equal("doc-1"))
			})

			It("should summarize the extracted medication", func() {
				Expect(doc.View().Summary).To(ContainSubstring("Metformin"))
			})
		})

		When("preprocessing produces a derived image", func() {
			BeforeEach(func() {
				preparer.prepared = "scan.prepared.jpg"
				files.files["scan.prepared.jpg"] = []byte("prepared")
			})

			It("should recognize the derived image", func() {
				Expect(recognizer.refs).To(Equal([]string{"scan.prepared.jpg"}))
			})

			It("should keep the original as the document image", func() {
				Expect(doc.ImageRef).To(Equal("scan.jpg"))
			})

			It("should delete the derived image afterwards", func() {
				Expect(files.files).NotTo(HaveKey("scan.prepared.jpg"))
				Expect(files.files).To(HaveKey("scan.jpg"))
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = apperr.New(apperr.KindRecognition, "calling OCR API", errors.New("connection refused"))
			})

			It("returns the recognition error", func() {
				Expect(err).To(MatchError(apperr.ErrRecognition))
				Expect(doc).To(BeNil())
			})

			It("should not call extraction", func() {
				Expect(extractor.texts).To(BeEmpty())
			})

			It("should not store anything", func() {
				Expect(kv.values).To(BeEmpty())
			})
		})

		When("recognition finds no text", func() {
			BeforeEach(func() {
				recognizer.err = apperr.New(apperr.KindInsufficientText, "no readable text found in the image", nil)
			})

			It("halts with an insufficient text error and stores nothing", func() {
				Expect(err).To(MatchError(apperr.ErrInsufficientText))
				Expect(extractor.texts).To(BeEmpty())
				Expect(kv.values).To(BeEmpty())
			})
		})

		When("the recognized text is too short", func() {
			BeforeEach(func() {
				recognizer.result = scanning.Result{Text: "  Rx 5mg  ", Confidence: 0.1}
			})

			It("returns an insufficient text error", func() {
				Expect(err).To(MatchError(apperr.ErrInsufficientText))
			})

			It("should not call extraction", func() {
				Expect(extractor.texts).To(BeEmpty())
			})

			It("should leave the store unchanged", func() {
				docs, _ := service.ListDocuments()
				Expect(docs).To(BeEmpty())
			})
		})

		When("the recognized text is empty", func() {
			BeforeEach(func() {
				recognizer.result = scanning.Result{Text: "", Confidence: 0.1}
			})

			It("returns an insufficient text error", func() {
				Expect(err).To(MatchError(apperr.ErrInsufficientText))
				Expect(kv.values).To(BeEmpty())
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = apperr.New(apperr.KindExtraction, "calling language model", errors.New("status 500"))
			})

			It("returns the extraction error", func() {
				Expect(err).To(MatchError(apperr.ErrExtraction))
			})

			It("should not store anything", func() {
				Expect(kv.values).To(BeEmpty())
			})
		})

		When("saving fails", func() {
			BeforeEach(func() {
				kv.setErr = errors.New("disk full")
			})

			It("returns a storage error", func() {
				Expect(err).To(MatchError(apperr.ErrStorage))
				Expect(doc).To(BeNil())
			})
		})
	})

	Describe("ProcessUpload", func() {
		var (
			data []byte
			doc  *Document
			err  error
		)

		BeforeEach(func() {
			data = []byte("\xff\xd8\xff\xe0upload")
		})

		JustBeforeEach(func() {
			doc, err = service.ProcessUpload(context.Background(), "IMG_2024 (1).JPG", data)
		})

		When("processing succeeds", func() {
			It("should save the upload under a sanitized name", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(files.files).To(HaveKey("doc-1_IMG_2024 1.jpg"))
			})

			It("should reference the upload from the document", func() {
				Expect(doc.ImageRef).To(Equal("doc-1_IMG_2024 1.jpg"))
				Expect(doc.ID).To(Equal("doc-2"))
			})
		})

		When("processing fails", func() {
			BeforeEach(func() {
				recognizer.err = apperr.New(apperr.KindRecognition, "calling OCR API", errors.New("timeout"))
			})

			It("should remove the upload", func() {
				Expect(err).To(HaveOccurred())
				Expect(files.files).NotTo(HaveKey("doc-1_IMG_2024 1.jpg"))
			})
		})

		When("the upload is empty", func() {
			BeforeEach(func() {
				data = nil
			})

			It("returns a capture error", func() {
				Expect(err).To(MatchError(apperr.ErrCapture))
				Expect(recognizer.refs).To(BeEmpty())
			})
		})

		When("the upload cannot be saved", func() {
			BeforeEach(func() {
				files.saveErr = errors.New("disk full")
			})

			It("returns a capture error", func() {
				Expect(err).To(MatchError(apperr.ErrCapture))
			})
		})
	})

	Describe("ListDocuments", func() {
		It("should list documents most recent first", func() {
			for i := 0; i < 3; i++ {
				_, err := service.ProcessDocument(context.Background(), "scan.jpg")
				Expect(err).NotTo(HaveOccurred())
			}
			docs, err := service.ListDocuments()
			Expect(err).NotTo(HaveOccurred())
			ids := []string{docs[0].ID, docs[1].ID, docs[2].ID}
			Expect(ids).To(Equal([]string{"doc-3", "doc-2", "doc-1"}))
		})
	})

	Describe("GetDocument", func() {
		BeforeEach(func() {
			Expect(store.Append(Document{ID: "doc-1", ImageRef: "scan.jpg", Data: value.Null{}})).To(Succeed())
		})

		It("should return a stored document", func() {
			doc, err := service.GetDocument("doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.ImageRef).To(Equal("scan.jpg"))
		})

		It("returns ErrNotFound for an unknown id", func() {
			_, err := service.GetDocument("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("DeleteDocument", func() {
		BeforeEach(func() {
			Expect(store.Append(Document{ID: "doc-1", ImageRef: "scan.jpg", Data: value.Null{}})).To(Succeed())
			Expect(store.Append(Document{ID: "doc-2", ImageRef: "other.jpg", Data: value.Null{}})).To(Succeed())
		})

		It("should remove the document and its image", func() {
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			_, err := service.GetDocument("doc-1")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(files.deleted).To(Equal([]string{"scan.jpg"}))
		})

		It("should be idempotent", func() {
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			docs, _ := service.ListDocuments()
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].ID).To(Equal("doc-2"))
		})

		It("should ignore unknown ids", func() {
			Expect(service.DeleteDocument("missing")).To(Succeed())
			docs, _ := service.ListDocuments()
			Expect(docs).To(HaveLen(2))
		})

		It("should still delete the document when the image cannot be removed", func() {
			files.deleteErr = errors.New("permission denied")
			Expect(service.DeleteDocument("doc-1")).To(Succeed())
			_, err := service.GetDocument("doc-1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("SearchDocuments", func() {
		BeforeEach(func() {
			Expect(store.Append(Document{ID: "aspirin", Data: mustParse(`{"medication": "Aspirin"}`)})).To(Succeed())
			Expect(store.Append(Document{ID: "lab", Data: mustParse(`{"document_type": "lab", "test": "Complete blood count"}`)})).To(Succeed())
			Expect(store.Append(Document{ID: "metformin", Data: mustParse(`{"medication": "Metformin", "frequency": "twice daily"}`)})).To(Succeed())
		})

		It("should find documents by title", func() {
			docs, err := service.SearchDocuments("aspirin", "all")
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].ID).To(Equal("aspirin"))
		})

		It("should filter by category in store order", func() {
			docs, err := service.SearchDocuments("", "prescription")
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ID).To(Equal("metformin"))
			Expect(docs[1].ID).To(Equal("aspirin"))
		})
	})

	Describe("GetDocumentImage", func() {
		BeforeEach(func() {
			Expect(store.Append(Document{ID: "doc-1", ImageRef: "scan.jpg", Data: value.Null{}})).To(Succeed())
		})

		It("should return the image and its content type", func() {
			data, contentType, err := service.GetDocumentImage("doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(files.files["scan.jpg"]))
			Expect(contentType).To(Equal("image/jpeg"))
		})

		It("returns ErrNotFound for an unknown id", func() {
			_, _, err := service.GetDocumentImage("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleaning names",
		func(input, expected string) {
			Expect(sanitizeFilename(input)).To(Equal(expected))
		},
		Entry("plain name", "scan.jpg", "scan.jpg"),
		Entry("special characters", "IMG_2024 (1).JPG", "IMG_2024 1.jpg"),
		Entry("path components", "../../etc/passwd.png", "passwd.png"),
		Entry("nothing left", "$$$.heic", "capture.heic"),
		Entry("long names", "a123456789b123456789c123456789d123456789e123456789f123.pdf", "a123456789b123456789c123456789d123456789e123456789.pdf"),
	)
})
