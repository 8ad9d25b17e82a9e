package shopapi

import (
	"context"

	"github.com/keboola/go-envelope-client/pkg/batch"
	"github.com/keboola/go-envelope-client/pkg/dispatch"
	"github.com/keboola/go-envelope-client/pkg/envelope"
	"github.com/keboola/go-envelope-client/pkg/request"
)

// Endpoint identifies an API method.
type Endpoint struct {
	Module string
	Class  string
	Method string
}

// Path returns "{version}/{class}/{method}", the part of the URL used by the DataSignature.
func (e Endpoint) Path(version string) string {
	return version + "/" + e.Class + "/" + e.Method
}

var (
	LoginEndpoint         = Endpoint{Module: "item", Class: "User", Method: "login"}
	AccountAmountEndpoint = Endpoint{Module: "item", Class: "User", Method: "getAmount"}
	ShopInfoEndpoint      = Endpoint{Module: "item", Class: "Shop", Method: "getInfo"}
	SaleDataEndpoint      = Endpoint{Module: "item", Class: "Shop", Method: "getStatDataByTotSaleData"}
)

// UploadPayloadField is the payload field of the upload responses.
const UploadPayloadField = "data"

// LoginRequest https://shop.example.com/item/v1/User/login
func (a *API) LoginRequest(mobile, password string) request.Definition {
	return a.newRequest(LoginEndpoint, request.MethodPost, map[string]any{"userName": mobile, "password": password})
}

// Login logs in the member, use API.WithMember to send requests on behalf of the member.
func (a *API) Login(ctx context.Context, mobile, password string) (*LoginResult, error) {
	out, err := send[LoginResult](ctx, a, a.LoginRequest(mobile, password))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountAmountRequest https://shop.example.com/item/v1/User/getAmount
func (a *API) AccountAmountRequest() request.Definition {
	return a.newRequest(AccountAmountEndpoint, request.MethodGet, nil)
}

func (a *API) AccountAmount(ctx context.Context) (*AccountAmount, error) {
	out, err := send[AccountAmount](ctx, a, a.AccountAmountRequest())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ShopInfoRequest https://shop.example.com/item/v1/Shop/getInfo
func (a *API) ShopInfoRequest() request.Definition {
	return a.newRequest(ShopInfoEndpoint, request.MethodGet, nil)
}

func (a *API) ShopInfo(ctx context.Context) (*ShopInfo, error) {
	out, err := send[ShopInfo](ctx, a, a.ShopInfoRequest())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaleDataRequest https://shop.example.com/item/v1/Shop/getStatDataByTotSaleData
func (a *API) SaleDataRequest() request.Definition {
	return a.newRequest(SaleDataEndpoint, request.MethodGet, nil)
}

func (a *API) SaleData(ctx context.Context) (*SaleData, error) {
	out, err := send[SaleData](ctx, a, a.SaleDataRequest())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DashboardRequests returns requests of the dashboard: login, account amount, shop info and sale data.
func (a *API) DashboardRequests(mobile, password string) []request.Definition {
	return []request.Definition{
		a.LoginRequest(mobile, password),
		a.AccountAmountRequest(),
		a.ShopInfoRequest(),
		a.SaleDataRequest(),
	}
}

// Dashboard sends the dashboard requests as one batch.
// Each result is decoded independently, a failed request doesn't prevent others from being decoded.
func (a *API) Dashboard(ctx context.Context, mobile, password string) (*Dashboard, error) {
	results := batch.Do(ctx, a.dispatcher, a.config.schema, a.DashboardRequests(mobile, password)...)
	out := &Dashboard{Results: results}
	out.Login, _ = envelope.PayloadAs[*LoginResult](results[0])
	out.Amount, _ = envelope.PayloadAs[*AccountAmount](results[1])
	out.Shop, _ = envelope.PayloadAs[*ShopInfo](results[2])
	out.Sales, _ = envelope.PayloadAs[*SaleData](results[3])
	return out, results.Err()
}

// UploadRequest uploads the data as the request body, to the upload URL.
func (a *API) UploadRequest(data []byte) request.Definition {
	def := request.New(a.config.uploadURL).WithMethod(request.MethodPost).WithUpload(request.UploadData(data))
	return a.sign(def, "")
}

// Upload sends the upload request, the operation reports the upload progress.
func (a *API) Upload(ctx context.Context, data []byte) *dispatch.Operation {
	return a.dispatcher.Send(ctx, a.UploadRequest(data))
}

// MultipartUploadRequest uploads the image as the "file[]" part of the multipart form, to the upload URL.
func (a *API) MultipartUploadRequest(data []byte, filename, mimeType string) request.Definition {
	def := request.New(a.config.uploadURL).WithMultipart(request.MultipartPart{
		Name:     "file[]",
		Filename: filename,
		MimeType: mimeType,
		Source:   request.UploadData(data),
	})
	return a.sign(def, "")
}

// MultipartUpload sends the multipart upload request, the operation reports the upload progress.
func (a *API) MultipartUpload(ctx context.Context, data []byte, filename, mimeType string) *dispatch.Operation {
	return a.dispatcher.Send(ctx, a.MultipartUploadRequest(data, filename, mimeType))
}

// UploadSchema returns the schema of the upload responses, the payload is in the "data" field.
func (a *API) UploadSchema() envelope.Schema {
	schema := a.config.schema
	schema.PayloadField = UploadPayloadField
	return schema
}

// UploadedFile decodes the upload result.
func UploadedFile(result envelope.Result) (*Upload, error) {
	out, err := envelope.PayloadAs[Upload](result)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadRequest downloads the file from the URL, for example an image from the CDN.
// The request is not signed, the nil destination means a temporary file.
func (a *API) DownloadRequest(url string, dst request.Destination, resumeData []byte) request.Definition {
	return request.New(url).WithDownload(request.Download{Destination: dst, ResumeData: resumeData})
}

// Download sends the download request, the operation reports the download progress.
func (a *API) Download(ctx context.Context, url string, dst request.Destination) *dispatch.Operation {
	return a.dispatcher.Send(ctx, a.DownloadRequest(url, dst, nil))
}
