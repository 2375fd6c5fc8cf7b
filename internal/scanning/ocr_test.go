package scanning

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/rx-tracker/internal/apperr"
	"github.com/zombor/rx-tracker/internal/throttle"
)

var _ = Describe("OCRSpace", func() {
	var (
		server  *ghttp.Server
		files   *mockFiles
		limiter *throttle.Limiter
		client  *OCRSpace
		opts    Options
		result  Result
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		files = newMockFiles()
		files.data["scan.prepared.jpg"] = []byte("\xff\xd8\xff\xe0jpegbytes")
		limiter = throttle.New(0, 1)
		opts = DefaultOptions

		var newErr error
		client, newErr = NewOCRSpace(OCRConfig{
			URL:     server.URL() + "/parse/image",
			APIKey:  "test-key",
			Timeout: 5 * time.Second,
			Limiter: limiter,
		}, files)
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result, err = client.Recognize(context.Background(), "scan.prepared.jpg", opts)
	})

	When("the service parses the image", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/parse/image"),
				ghttp.VerifyHeaderKV("apikey", "test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					Expect(r.FormValue("language")).To(Equal("eng"))
					Expect(r.FormValue("OCREngine")).To(Equal("2"))
					Expect(r.FormValue("detectOrientation")).To(Equal("true"))
					Expect(r.FormValue("scale")).To(Equal("true"))
					Expect(r.FormValue("isTable")).To(Equal("false"))

					image := r.FormValue("base64Image")
					Expect(image).To(HavePrefix("data:image/jpeg;base64,"))
					decoded, decodeErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(image, "data:image/jpeg;base64,"))
					Expect(decodeErr).NotTo(HaveOccurred())
					Expect(decoded).To(Equal(files.data["scan.prepared.jpg"]))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"OCRExitCode":           1,
					"IsErroredOnProcessing": false,
					"ParsedResults": []map[string]any{
						{"ParsedText": "  Take Metformin 500mg twice daily with food \r\n"},
					},
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the trimmed text", func() {
			Expect(result.Text).To(Equal("Take Metformin 500mg twice daily with food"))
		})

		It("should attach the heuristic confidence", func() {
			Expect(result.Confidence).To(Equal(Confidence(result.Text)))
			Expect(result.Confidence).To(BeNumerically(">", 0.5))
		})
	})

	When("a table hint is given", func() {
		BeforeEach(func() {
			opts = Options{IsTable: true}
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					Expect(r.FormValue("isTable")).To(Equal("true"))
					Expect(r.FormValue("detectOrientation")).To(Equal("false"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"OCRExitCode":   1,
					"ParsedResults": []map[string]any{{"ParsedText": "Amoxicillin 250mg capsules"}},
				}),
			))
		})

		It("should send the hints", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the service reports a failed exit code", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"OCRExitCode":           3,
				"IsErroredOnProcessing": true,
				"ErrorMessage":          []string{"Unable to recognize the file type"},
			}))
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
			Expect(err.Error()).To(ContainSubstring("Unable to recognize the file type"))
		})
	})

	When("the error message is a plain string", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"OCRExitCode":  4,
				"ErrorMessage": "Timed out waiting for results",
			}))
		})

		It("returns a recognition error carrying the message", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
			Expect(err.Error()).To(ContainSubstring("Timed out waiting for results"))
		})
	})

	When("there are no parsed results", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"OCRExitCode":   1,
				"ParsedResults": []map[string]any{},
			}))
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
		})
	})

	When("the parsed text is whitespace", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"OCRExitCode":   1,
				"ParsedResults": []map[string]any{{"ParsedText": " \r\n "}},
			}))
		})

		It("returns an insufficient text error", func() {
			Expect(err).To(MatchError(apperr.ErrInsufficientText))
			Expect(err).NotTo(MatchError(apperr.ErrRecognition))
		})
	})

	When("the service returns a server error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "upstream down"))
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
			Expect(err.Error()).To(ContainSubstring("status 500"))
		})
	})

	When("the service is rate limiting", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, "slow down",
				http.Header{"Retry-After": []string{"30"}}))
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
		})

		It("should hold further calls", func() {
			waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			Expect(limiter.Wait(waitCtx)).To(MatchError(context.DeadlineExceeded))
		})
	})

	When("the service is unreachable", func() {
		BeforeEach(func() {
			server.Close()
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
		})
	})

	When("the service does not answer in time", func() {
		BeforeEach(func() {
			client.cfg.Timeout = 50 * time.Millisecond
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
			})
		})

		It("returns a recognition error marked as a timeout", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
			Expect(err).To(MatchError(apperr.ErrTimeout))
		})
	})

	When("the image is missing", func() {
		BeforeEach(func() {
			delete(files.data, "scan.prepared.jpg")
		})

		It("returns a recognition error without calling the service", func() {
			Expect(err).To(MatchError(apperr.ErrRecognition))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("NewOCRSpace", func() {
	It("requires an API key", func() {
		_, err := NewOCRSpace(OCRConfig{}, newMockFiles())
		Expect(err).To(HaveOccurred())
	})

	It("fills in defaults", func() {
		client, err := NewOCRSpace(OCRConfig{APIKey: "k"}, newMockFiles())
		Expect(err).NotTo(HaveOccurred())
		Expect(client.cfg.URL).To(Equal(DefaultOCRURL))
		Expect(client.cfg.Language).To(Equal("eng"))
		Expect(client.cfg.Engine).To(Equal(DefaultOCREngine))
	})
})
