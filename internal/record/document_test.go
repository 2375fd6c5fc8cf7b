package record

import (
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/rx-tracker/internal/storage"
	"github.com/zombor/rx-tracker/internal/value"
)

var _ = Describe("Document persistence", func() {
	var (
		dbPath string
		kv     *storage.BoltKV
		docs   []Document
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "documents.db")
		var err error
		kv, err = storage.NewBoltKV(dbPath)
		Expect(err).NotTo(HaveOccurred())

		base := time.Date(2024, 3, 20, 8, 15, 42, 987000000, time.UTC)
		docs = []Document{
			{
				ID:            "doc-1",
				ExtractedText: "Take Metformin 500mg twice daily with food",
				ImageRef:      "doc-1_scan.jpg",
				CreatedAt:     base,
				Confidence:    0.66,
				Data: mustParse(`{"extracted_data": {"medications": [{"name": "Metformin", "dosage": "500mg"}],
					"refills": 3, "generic_allowed": true, "notes": null}}`),
			},
			{
				ID:            "doc-2",
				ExtractedText: "Amoxicillin 250mg capsules",
				ImageRef:      "doc-2_scan.jpg",
				CreatedAt:     base.Add(90 * time.Minute),
				Confidence:    0.7,
				Data:          value.Map{{Key: "zeta", Value: value.Number(1.5)}, {Key: "alpha", Value: value.List{}}},
			},
		}
	})

	AfterEach(func() {
		if kv != nil {
			kv.Close()
		}
	})

	It("should round-trip documents through the store", func() {
		store := NewStore(kv)
		for _, doc := range docs {
			Expect(store.Append(doc)).To(Succeed())
		}
		Expect(kv.Close()).To(Succeed())

		var err error
		kv, err = storage.NewBoltKV(dbPath)
		Expect(err).NotTo(HaveOccurred())

		loaded, err := NewStore(kv).List()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(2))

		// most recent first
		Expect(loaded[0].ID).To(Equal("doc-2"))
		Expect(loaded[1].ID).To(Equal("doc-1"))

		for i, want := range []Document{docs[1], docs[0]} {
			got := loaded[i]
			Expect(got.ExtractedText).To(Equal(want.ExtractedText))
			Expect(got.ImageRef).To(Equal(want.ImageRef))
			Expect(got.CreatedAt.Equal(want.CreatedAt)).To(BeTrue())
			Expect(got.Confidence).To(Equal(want.Confidence))
			Expect(value.Equal(got.Data, want.Data)).To(BeTrue())
		}
	})

	It("should keep the key order of the data", func() {
		store := NewStore(kv)
		Expect(store.Append(docs[1])).To(Succeed())
		loaded, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded[0].Data.(value.Map).Keys()).To(Equal([]string{"zeta", "alpha"}))
	})

	It("should replace a document re-appended with the same id", func() {
		store := NewStore(kv)
		Expect(store.Append(docs[0])).To(Succeed())
		Expect(store.Append(docs[1])).To(Succeed())

		replacement := docs[0]
		replacement.ExtractedText = "Take Metformin 1000mg once daily"
		Expect(store.Append(replacement)).To(Succeed())

		loaded, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(2))
		Expect(loaded[0].ID).To(Equal("doc-1"))
		Expect(loaded[0].ExtractedText).To(Equal("Take Metformin 1000mg once daily"))
	})
})

var _ = Describe("Document JSON", func() {
	It("should use camelCase field names", func() {
		data, err := json.Marshal(Document{ID: "doc-1", Data: value.Map{{Key: "a", Value: value.Number(1)}}})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"extractedText":""`))
		Expect(string(data)).To(ContainSubstring(`"imageRef":""`))
		Expect(string(data)).To(ContainSubstring(`"data":{"a":1}`))
	})

	It("should decode a missing data field as null", func() {
		var doc Document
		Expect(json.Unmarshal([]byte(`{"id": "doc-1"}`), &doc)).To(Succeed())
		Expect(doc.Data).To(Equal(value.Null{}))
	})

	It("should decode scalar data", func() {
		var doc Document
		Expect(json.Unmarshal([]byte(`{"id": "doc-1", "data": 12}`), &doc)).To(Succeed())
		Expect(doc.Data).To(Equal(value.Number(12)))
	})
})
