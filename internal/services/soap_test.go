package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/ncx/internal/shared"
	tu "github.com/desertthunder/ncx/internal/testing"
)

func newSoapServer(t *testing.T, status int, response string, captured *string) *SoapClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SoapPath {
			t.Errorf("expected path %s, got %s", SoapPath, r.URL.Path)
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			*captured = string(body)
		}
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	c := NewSoapClient(srv.URL, "jwt-token", nil, nil)
	c.newPassword = func() string { return "Pa5$word1234" }
	return c
}

func TestSoapClient(t *testing.T) {
	ctx := context.Background()

	t.Run("UserAdd Envelope", func(t *testing.T) {
		var body string
		c := newSoapServer(t, 200, `<soapenv:Envelope><soapenv:Body><ns1:userAddResponse><ns1:return>4242</ns1:return></ns1:userAddResponse></soapenv:Body></soapenv:Envelope>`, &body)

		id, err := c.UserAdd(ctx, "jane@acme.test", UserAddInfo{
			Email:          "jane@acme.test",
			FirstName:      "Jane",
			LastName:       "O'Neil & Co",
			CustomerID:     100,
			IsEnabled:      true,
			RoleIDs:        []int64{7, 8},
			AccessGroupIDs: []int64{9},
		})
		if err != nil {
			t.Fatalf("UserAdd failed: %v", err)
		}
		if id != 4242 {
			t.Errorf("expected id 4242, got %d", id)
		}

		for _, want := range []string{
			"<ei2:userAdd>",
			"<ei2:password>jwt-token</ei2:password>",
			"<ei2:key>password</ei2:key>\n            <ei2:value>Pa5$word1234</ei2:value>",
			"<ei2:key>userroleID</ei2:key>\n            <ei2:value>7,8</ei2:value>",
			"<ei2:key>accessgroupids</ei2:key>\n            <ei2:value>9</ei2:value>",
			"<ei2:key>mustchangepassword</ei2:key>\n            <ei2:value>true</ei2:value>",
			"<ei2:value>O&apos;Neil &amp; Co</ei2:value>",
			"<ei2:value>enabled</ei2:value>",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("envelope missing %q", want)
			}
		}
		if strings.Contains(body, "<ei2:key>phone</ei2:key>") {
			t.Error("expected empty optional settings to be omitted")
		}
		if strings.Index(body, "<ei2:key>email</ei2:key>") > strings.Index(body, "<ei2:key>mustchangepassword</ei2:key>") {
			t.Error("expected email before mustchangepassword")
		}
	})

	t.Run("Fault", func(t *testing.T) {
		c := newSoapServer(t, 500, `<soap:Envelope><soap:Body><soap:Fault><faultcode>Client</faultcode><faultstring>Invalid customer</faultstring></soap:Fault></soap:Body></soap:Envelope>`, nil)

		_, err := c.UserAdd(ctx, "x", UserAddInfo{CustomerID: 1})
		var fault *SoapFaultError
		if !errors.As(err, &fault) {
			t.Fatalf("expected SoapFaultError, got %v", err)
		}
		if fault.Code != "Client" || fault.Message != "Invalid customer" {
			t.Errorf("unexpected fault %+v", fault)
		}
		if !errors.Is(err, shared.ErrSoapFault) {
			t.Error("expected ErrSoapFault in chain")
		}
	})

	t.Run("HTTP Error", func(t *testing.T) {
		c := newSoapServer(t, 503, strings.Repeat("x", 500), nil)

		_, err := c.CustomerAdd(ctx, CustomerAddInfo{Name: "Acme", ParentID: 50})
		var he *SoapHTTPError
		if !errors.As(err, &he) {
			t.Fatalf("expected SoapHTTPError, got %v", err)
		}
		if he.Status != 503 || len(he.Body) > 203 {
			t.Errorf("unexpected error %+v", he)
		}
	})

	t.Run("Alternate Return Tag", func(t *testing.T) {
		c := newSoapServer(t, 200, `<Envelope><Body><userRoleAddResponse><userRoleAddReturn> 77 </userRoleAddReturn></userRoleAddResponse></Body></Envelope>`, nil)

		id, err := c.UserRoleAdd(ctx, UserRoleAddInfo{CustomerID: 1, Name: "Tech", PermissionIDs: []int64{1701}})
		if err != nil || id != 77 {
			t.Errorf("expected 77, got %d %v", id, err)
		}
	})

	t.Run("Missing Return", func(t *testing.T) {
		c := newSoapServer(t, 200, `<Envelope><Body><accessGroupAddResponse/></Body></Envelope>`, nil)

		_, err := c.AccessGroupAdd(ctx, AccessGroupAddInfo{CustomerID: 1, Name: "All"})
		if !errors.Is(err, shared.ErrSoapParse) {
			t.Errorf("expected ErrSoapParse, got %v", err)
		}
	})

	t.Run("Negative Return Is Not An Error", func(t *testing.T) {
		c := newSoapServer(t, 200, `<Envelope><Body><return>-1</return></Body></Envelope>`, nil)

		id, err := c.UserAdd(ctx, "x", UserAddInfo{CustomerID: 1, RoleIDs: []int64{1}})
		if err != nil || id != -1 {
			t.Errorf("expected -1 with no error, got %d %v", id, err)
		}
	})

	t.Run("Property Modify Needs No Return", func(t *testing.T) {
		var body string
		c := newSoapServer(t, 200, `<Envelope><Body/></Envelope>`, &body)

		err := c.OrganizationPropertyModify(ctx, PropertyModifyInfo{CustomerID: 3, Label: "Tier", Value: "Gold"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(body, "propertyid") {
			t.Error("expected propertyid omitted when unset")
		}
	})

	t.Run("Authorization Header", func(t *testing.T) {
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			w.Write([]byte(`<return>1</return>`))
		}))
		defer srv.Close()

		c := NewSoapClient(srv.URL, "jwt", nil, nil)
		c.CustomerAdd(ctx, CustomerAddInfo{Name: "A", ParentID: 1})
		if auth != "Bearer jwt" {
			t.Errorf("expected bearer header without username, got %q", auth)
		}

		c.SetUsername("api@acme.test")
		c.CustomerAdd(ctx, CustomerAddInfo{Name: "A", ParentID: 1})
		if auth != "" {
			t.Errorf("expected no bearer header with username, got %q", auth)
		}
	})

	t.Run("Against Fake Server", func(t *testing.T) {
		fake := tu.NewFakeNCentral(t, 50, "Acme MSP")
		c := NewSoapClient(fake.URL(), "valid-jwt", nil, nil)

		id, err := c.UserAdd(ctx, "jane", UserAddInfo{Email: "jane@acme.test", CustomerID: 100, RoleIDs: []int64{5, 6}})
		if err != nil {
			t.Fatalf("UserAdd failed: %v", err)
		}
		user, ok := fake.UserByLogin("jane")
		if !ok || user.UserID.Int64() != id {
			t.Fatalf("expected user recorded with id %d, got %+v", id, user)
		}
		if len(user.RoleIDs) != 2 {
			t.Errorf("expected roles recorded, got %v", user.RoleIDs)
		}
	})
}

func TestParseSoapFault(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantNil  bool
		wantCode string
		wantMsg  string
	}{
		{name: "No Fault", body: `<return>1</return>`, wantNil: true},
		{name: "Prefixed", body: `<soapenv:Fault><faultcode>soapenv:Server</faultcode><faultstring>Boom &amp; bust</faultstring></soapenv:Fault>`, wantCode: "soapenv:Server", wantMsg: "Boom & bust"},
		{name: "Missing Fields", body: `<Fault></Fault>`, wantCode: "Unknown", wantMsg: "Unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fault := ParseSoapFault(tt.body)
			if tt.wantNil {
				if fault != nil {
					t.Errorf("expected nil, got %+v", fault)
				}
				return
			}
			if fault == nil {
				t.Fatal("expected fault")
			}
			if fault.Code != tt.wantCode || fault.Message != tt.wantMsg {
				t.Errorf("got %+v", fault)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	for seed := range uint64(50) {
		pw := generatePassword(seed * 7919)
		if len(pw) != PasswordLength {
			t.Fatalf("expected length %d, got %d", PasswordLength, len(pw))
		}
		for _, set := range []string{passwordUpper, passwordLower, passwordDigits, passwordSpecial} {
			if !strings.ContainsAny(pw, set) {
				t.Errorf("password %q missing a character from %q", pw, set)
			}
		}
	}

	if generatePassword(1) != generatePassword(1) {
		t.Error("expected deterministic output for a fixed seed")
	}
	if generatePassword(1) == generatePassword(2) {
		t.Error("expected different seeds to differ")
	}
}
