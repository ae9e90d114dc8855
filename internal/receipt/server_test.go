package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewService(db, scanner, storage)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	decodeError := func(resp *http.Response) string {
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"].(string)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		auth = BasicAuth{}
		ghttpServer = nil
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		When("request method is GET", func() {
			It("should return HTML containing NFC-e Tracker", func() {
				resp, err := http.Get(ghttpServer.URL() + "/")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("NFC-e Tracker"))
			})
		})

		When("request method is not GET", func() {
			It("should return status Method Not Allowed", func() {
				resp, err := http.Post(ghttpServer.URL()+"/", "text/plain", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
				resp.Body.Close()
			})
		})
	})

	Describe("handleScan", func() {
		post := func(body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/scans", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the scan succeeds", func() {
			It("should return the stored receipt with status Created", func() {
				resp := post(`{"content":"chNFe=` + keyA + `|2|1|1|HASH"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var receipt Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
				Expect(receipt.ID).NotTo(BeEmpty())
				Expect(receipt.AccessKey).To(Equal(keyA))
				Expect(receipt.Items).To(HaveLen(1))
			})
		})

		When("the content is already stored", func() {
			BeforeEach(func() {
				db.receipts["existing"] = &Receipt{ID: "existing", Record: scanning.Record{Content: "hello"}}
			})

			It("should return Conflict with the existing receipt", func() {
				resp := post(`{"content":"hello"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))

				var body struct {
					Error   string   `json:"error"`
					Receipt *Receipt `json:"receipt"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.Error).To(ContainSubstring("already exists"))
				Expect(body.Receipt.ID).To(Equal("existing"))
			})
		})

		When("the content is empty", func() {
			BeforeEach(func() {
				scanner.processErr = scanning.ErrEmptyContent
			})

			It("should return Bad Request", func() {
				resp := post(`{"content":""}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("empty"))
			})
		})

		When("the request is canceled mid-pipeline", func() {
			BeforeEach(func() {
				scanner.processErr = scanning.ErrCanceled
			})

			It("should return Service Unavailable", func() {
				resp := post(`{"content":"chNFe=` + keyA + `"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("the body is not JSON", func() {
			It("should return Bad Request", func() {
				resp := post(`content=abc`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Invalid request body"))
			})
		})

		When("saving fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should hide the cause behind Internal Server Error", func() {
				resp := post(`{"content":"chNFe=` + keyA + `"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp)).To(Equal("Internal server error"))
			})
		})
	})

	Describe("handleListReceipts", func() {
		BeforeEach(func() {
			db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
			db.receipts["r2"] = newTestReceipt("r2", keyB, "b")
			db.receipts["r2"].CompanyName = "FARMACIA CENTRAL"
		})

		When("no filter is given", func() {
			It("should return all receipts", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("a term is given", func() {
			It("should return the matching receipts", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts?term=farmacia")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].ID).To(Equal("r2"))
			})
		})

		When("a total bound uses a decimal comma", func() {
			It("should parse it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts?min=25,90&max=25,90")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("a total bound is not a number", func() {
			It("should return Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts?min=abc")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("invalid min value"))
			})
		})

		When("no receipts exist", func() {
			BeforeEach(func() {
				db.receipts = map[string]*Receipt{}
			})

			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})
	})

	Describe("handleGetReceipt", func() {
		When("receipt exists", func() {
			BeforeEach(func() {
				db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
			})

			It("should return the receipt", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipt Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal("r1"))
				Expect(receipt.CompanyName).To(Equal("SUPERMERCADO BOM PRECO LTDA"))
			})
		})

		When("receipt does not exist", func() {
			It("should return Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decodeError(resp)).To(ContainSubstring("receipt not found"))
			})
		})
	})

	Describe("handleGetReceiptDocument", func() {
		BeforeEach(func() {
			db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
		})

		When("a snapshot exists", func() {
			BeforeEach(func() {
				storage.files["r1.html"] = []byte("<html>portal</html>")
			})

			It("should serve it sandboxed", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/document")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/html"))
				Expect(resp.Header.Get("Content-Security-Policy")).To(Equal("sandbox"))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(Equal("<html>portal</html>"))
			})
		})

		When("no snapshot exists", func() {
			It("should return Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/document")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleReprocessReceipt", func() {
		BeforeEach(func() {
			db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
			storage.files["r1.html"] = []byte("<html>portal</html>")
		})

		It("should return the re-extracted receipt", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/r1/reprocess", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			Expect(json.NewDecoder(resp.Body).Decode(&receipt)).To(Succeed())
			Expect(receipt.Route).To(Equal(scanning.SnapshotRoute))
			Expect(scanner.reextracted).To(ConsistOf("<html>portal</html>"))
		})
	})

	Describe("handleDeleteReceipt", func() {
		deleteReceipt := func(id string) *http.Response {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/"+id, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("deletion succeeds", func() {
			BeforeEach(func() {
				db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
			})

			It("should return No Content", func() {
				resp := deleteReceipt("r1")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.receipts).NotTo(HaveKey("r1"))
			})
		})

		When("receipt does not exist", func() {
			It("should return Not Found", func() {
				resp := deleteReceipt("nonexistent")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleListItems", func() {
		BeforeEach(func() {
			db.receipts["r1"] = newTestReceipt("r1", keyA, "a")
			db.receipts["r2"] = newTestReceipt("r2", keyB, "b")
		})

		It("should return the items of one receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/items?receipt_id=r2")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var items []ItemRow
			Expect(json.NewDecoder(resp.Body).Decode(&items)).To(Succeed())
			Expect(items).To(HaveLen(1))
			Expect(items[0].ReceiptID).To(Equal("r2"))
			Expect(items[0].Code).To(Equal("7891234567890"))
		})
	})

	Describe("handleExport", func() {
		BeforeEach(func() {
			db.receipts["r1"] = newTestReceipt("r1", keyA, "chNFe="+keyA)
		})

		When("CSV is requested", func() {
			It("should return an attachment", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export?format=csv")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring(`filename="cupons-fiscais.csv"`))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(HavePrefix("ID,Data,Empresa,CNPJ,Chave Acesso,Valor Total,QR Content\n"))
			})
		})

		When("XLSX is requested", func() {
			It("should return a zip container", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export?format=xlsx")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				Expect(bytes.HasPrefix(body, []byte("PK"))).To(BeTrue())
			})
		})

		When("the format is unknown", func() {
			It("should return Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/export?format=pdf")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("authenticate", func() {
		var result bool

		When("no auth is configured", func() {
			It("should return true", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				result = server.authenticate(req)
				Expect(result).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pa:ss"}
			})

			It("should accept valid credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pa:ss"))
				req.Header.Set("Authorization", "Basic "+credentials)
				result = server.authenticate(req)
				Expect(result).To(BeTrue())
			})

			It("should reject invalid credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:wrong"))
				req.Header.Set("Authorization", "Basic "+credentials)
				result = server.authenticate(req)
				Expect(result).To(BeFalse())
			})

			It("should reject a missing header", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				result = server.authenticate(req)
				Expect(result).To(BeFalse())
			})
		})
	})

	Describe("requireAuth", func() {
		When("request is unauthorized", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
			})

			It("should return status Unauthorized with a realm", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(Equal(`Basic realm="NFC-e Tracker"`))
			})
		})
	})

	Describe("Handler", func() {
		It("should answer preflight requests with CORS headers", func() {
			ghttpServer.Close()
			ghttpServer = ghttp.NewServer()
			ghttpServer.AppendHandlers(server.Handler().ServeHTTP)

			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
