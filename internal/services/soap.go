package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
)

// SoapPath is the legacy EI2 endpoint.
const SoapPath = "/dms2/services2/ServerEI2"

// soapTagPrefixes are the namespace prefixes tolerated when locating response elements.
var soapTagPrefixes = []string{"", "ns1:", "ns2:", "ei2:", "soap:", "soapenv:"}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

var envelopeTmpl = template.Must(template.New("envelope").Funcs(template.FuncMap{"x": xmlEscaper.Replace}).Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ei2="http://ei2.nobj.nable.com/">
   <soapenv:Header/>
   <soapenv:Body>
      <ei2:{{.Op}}>
         <ei2:username>{{x .Username}}</ei2:username>
         <ei2:password>{{x .Password}}</ei2:password>
{{- range .Settings}}
         <ei2:settings>
            <ei2:key>{{x .Key}}</ei2:key>
            <ei2:value>{{x .Value}}</ei2:value>
         </ei2:settings>
{{- end}}
      </ei2:{{.Op}}>
   </soapenv:Body>
</soapenv:Envelope>`))

type soapSetting struct {
	Key   string
	Value string
}

type settings []soapSetting

func (s *settings) add(key, value string) { *s = append(*s, soapSetting{key, value}) }

func (s *settings) optional(key, value string) {
	if value != "" {
		s.add(key, value)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// UserAddInfo describes a user to create through SOAP.
type UserAddInfo struct {
	Email          string
	FirstName      string
	LastName       string
	CustomerID     int64
	IsEnabled      bool
	Phone          string
	Department     string
	Location       string
	RoleIDs        []int64
	AccessGroupIDs []int64
}

// CustomerAddInfo describes a customer or site to create through SOAP. Sites use the customer as parent.
type CustomerAddInfo struct {
	Name       string
	ParentID   int64
	ExternalID string
	models.Address
}

// UserRoleAddInfo describes a role to create through SOAP.
type UserRoleAddInfo struct {
	CustomerID    int64
	Name          string
	Description   string
	PermissionIDs []int64
}

// AccessGroupAddInfo describes an access group to create through SOAP.
type AccessGroupAddInfo struct {
	CustomerID  int64
	Name        string
	Description string
	GroupType   string
	OrgUnitIDs  []int64
	UserIDs     []int64
}

// PropertyModifyInfo sets one org unit custom property value through SOAP.
type PropertyModifyInfo struct {
	CustomerID int64
	PropertyID int64
	Label      string
	Value      string
}

// SoapClient calls the legacy EI2 SOAP API. It is the only way to create users.
type SoapClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *log.Logger

	// newPassword generates initial user passwords; replaced in tests.
	newPassword func() string
}

// NewSoapClient creates a [SoapClient]. credential is the API-user JWT, sent as the SOAP password.
func NewSoapClient(baseURL, credential string, httpClient *http.Client, logger *log.Logger) *SoapClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SoapClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		password:    strings.TrimSpace(credential),
		httpClient:  httpClient,
		logger:      logger,
		newPassword: GeneratePassword,
	}
}

// SetUsername sets the API username. Without one, the credential is also sent as a Bearer header.
func (s *SoapClient) SetUsername(username string) {
	s.username = strings.TrimSpace(username)
}

// UserAdd creates a user with login as username and returns the new user id.
func (s *SoapClient) UserAdd(ctx context.Context, login string, info UserAddInfo) (int64, error) {
	var set settings
	set.add("email", info.Email)
	set.add("password", s.newPassword())
	set.add("customerID", strconv.FormatInt(info.CustomerID, 10))
	set.add("firstname", info.FirstName)
	set.add("lastname", info.LastName)
	set.add("username", login)
	if info.IsEnabled {
		set.add("status", "enabled")
	} else {
		set.add("status", "disabled")
	}
	set.optional("phone", info.Phone)
	set.optional("department", info.Department)
	set.optional("location", info.Location)
	if len(info.RoleIDs) > 0 {
		set.add("userroleID", joinIDs(info.RoleIDs))
	} else {
		s.logger.Warn("userAdd without roles", "login", login)
	}
	if len(info.AccessGroupIDs) > 0 {
		set.add("accessgroupids", joinIDs(info.AccessGroupIDs))
	}
	set.add("mustchangepassword", "true")

	s.logger.Info("SOAP userAdd", "login", login, "email", info.Email, "customer_id", info.CustomerID)
	return s.call(ctx, "userAdd", set, true)
}

// CustomerAdd creates a customer (or a site when ParentID is a customer) and returns its id.
func (s *SoapClient) CustomerAdd(ctx context.Context, info CustomerAddInfo) (int64, error) {
	var set settings
	set.add("customername", info.Name)
	set.add("parentid", strconv.FormatInt(info.ParentID, 10))
	set.optional("externalid", info.ExternalID)
	set.optional("firstname", info.ContactFirstName)
	set.optional("lastname", info.ContactLastName)
	set.optional("email", info.ContactEmail)
	set.optional("telephone", info.ContactPhone)
	set.optional("street1", info.Street1)
	set.optional("street2", info.Street2)
	set.optional("city", info.City)
	set.optional("stateprov", info.StateProv)
	set.optional("country", info.Country)
	set.optional("postalcode", info.PostalCode)
	return s.call(ctx, "customerAdd", set, true)
}

// UserRoleAdd creates a role and returns its id.
func (s *SoapClient) UserRoleAdd(ctx context.Context, info UserRoleAddInfo) (int64, error) {
	var set settings
	set.add("customerID", strconv.FormatInt(info.CustomerID, 10))
	set.add("rolename", info.Name)
	set.optional("description", info.Description)
	set.add("permissionids", joinIDs(info.PermissionIDs))
	return s.call(ctx, "userRoleAdd", set, true)
}

// AccessGroupAdd creates an access group and returns its id.
func (s *SoapClient) AccessGroupAdd(ctx context.Context, info AccessGroupAddInfo) (int64, error) {
	var set settings
	set.add("customerID", strconv.FormatInt(info.CustomerID, 10))
	set.add("groupname", info.Name)
	set.optional("groupdescription", info.Description)
	set.optional("grouptype", info.GroupType)
	set.add("orgunitids", joinIDs(info.OrgUnitIDs))
	set.add("userids", joinIDs(info.UserIDs))
	set.add("autoincludenewunits", "true")
	return s.call(ctx, "accessGroupAdd", set, true)
}

// OrganizationPropertyModify sets a custom property value on an org unit.
func (s *SoapClient) OrganizationPropertyModify(ctx context.Context, info PropertyModifyInfo) error {
	var set settings
	set.add("customerID", strconv.FormatInt(info.CustomerID, 10))
	if info.PropertyID > 0 {
		set.add("propertyid", strconv.FormatInt(info.PropertyID, 10))
	}
	set.optional("propertylabel", info.Label)
	set.add("propertyvalue", info.Value)
	_, err := s.call(ctx, "organizationPropertyModify", set, false)
	return err
}

// call posts the envelope for op and returns the integer return value when needReturn is set.
func (s *SoapClient) call(ctx context.Context, op string, set settings, needReturn bool) (int64, error) {
	var buf bytes.Buffer
	err := envelopeTmpl.Execute(&buf, struct {
		Op, Username, Password string
		Settings               settings
	}{op, s.username, s.password, set})
	if err != nil {
		return 0, fmt.Errorf("failed to build %s envelope: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+SoapPath, &buf)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)
	if s.username == "" {
		req.Header.Set("Authorization", "Bearer "+s.password)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, &SoapHTTPError{Body: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read response: %v", shared.ErrSoapParse, err)
	}
	body := string(data)
	s.logger.Debug("SOAP response", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if fault := ParseSoapFault(body); fault != nil {
		return 0, fault
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &SoapHTTPError{Status: resp.StatusCode, Body: truncate(body, 200)}
	}
	if !needReturn {
		return 0, nil
	}

	id, err := parseReturn(body, op)
	if err != nil {
		return 0, err
	}
	if id == -1 {
		s.logger.Warn("SOAP call returned -1", "op", op, "body", truncate(body, 1000))
	}
	return id, nil
}

// ParseSoapFault returns a [SoapFaultError] when body carries a fault marker, nil otherwise.
func ParseSoapFault(body string) *SoapFaultError {
	marker := strings.Contains(body, "<faultcode>") || strings.Contains(body, "<Fault>")
	for _, p := range soapTagPrefixes[1:] {
		marker = marker || strings.Contains(body, "<"+p+"Fault>")
	}
	if !marker {
		return nil
	}
	code, ok := extractXMLValue(body, "faultcode")
	if !ok {
		code = "Unknown"
	}
	msg, ok := extractXMLValue(body, "faultstring")
	if !ok {
		msg = "Unknown error"
	}
	return &SoapFaultError{Code: code, Message: msg}
}

func parseReturn(body, op string) (int64, error) {
	raw, ok := extractXMLValue(body, "return")
	if !ok {
		raw, ok = extractXMLValue(body, op+"Return")
	}
	if !ok {
		return 0, fmt.Errorf("%w: no return value in %s response", shared.ErrSoapParse, op)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to parse %s return %q: %v", shared.ErrSoapParse, op, raw, err)
	}
	return id, nil
}

// extractXMLValue finds the text of the first <tag> element under any tolerated prefix.
func extractXMLValue(xml, tag string) (string, bool) {
	for _, prefix := range soapTagPrefixes {
		open := "<" + prefix + tag + ">"
		closing := "</" + prefix + tag + ">"
		start := strings.Index(xml, open)
		if start < 0 {
			continue
		}
		rest := xml[start+len(open):]
		if end := strings.Index(rest, closing); end >= 0 {
			return xmlUnescaper.Replace(rest[:end]), true
		}
	}
	return "", false
}
