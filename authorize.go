package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/schema"
	"github.com/podnet/podnet/token"
)

// AuthzRequest asks whether the caller of the token may run one operation
// on one data class of the loaded schema.
type AuthzRequest struct {
	Class     string `json:"class"`
	Operation string `json:"operation"`

	// Depth is the network distance between the caller and the pod owner,
	// evaluated against network-category access rules.
	Depth int `json:"depth"`
}

/**
* Handles data access authorization requests. Only a verified token ever
* reaches rule evaluation, and an indeterminate evaluation is answered with
* a denial.
 */
func authorize(c *gin.Context) {
	authorizationHeader := c.GetHeader("Authorization")
	if authorizationHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, model.Decision{Decision: false, Reason: "No authorization header was provided."})
		return
	}

	if dataSchema == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, model.Decision{Decision: false, Reason: "No schema is loaded."})
		return
	}

	authzRequest := AuthzRequest{}
	if err := c.ShouldBindJSON(&authzRequest); err != nil {
		logger.Warnf("Was not able to bind the authz request. Err: %v", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, model.Decision{Decision: false, Reason: "Was not able to bind the request body."})
		return
	}

	decodedToken, httpErr := token.Decode(authorizationHeader, nil, envConfig.NetworkName(), signerResolver)
	if httpErr != (model.HttpError{}) {
		logger.Debugf("Token was rejected: %s.", httpErr.Message)
		c.AbortWithStatusJSON(http.StatusUnauthorized, model.Decision{Decision: false, Reason: httpErr.Message})
		return
	}
	if !decodedToken.Verified {
		c.AbortWithStatusJSON(http.StatusUnauthorized, model.Decision{Decision: false, Reason: "Token signature was not verified."})
		return
	}

	dataItem, httpErr := dataSchema.Class(authzRequest.Class)
	if httpErr != (model.HttpError{}) {
		c.AbortWithStatusJSON(httpErr.Status, model.Decision{Decision: false, Reason: httpErr.Message})
		return
	}

	serviceId := 0
	if decodedToken.ServiceId != nil {
		serviceId = *decodedToken.ServiceId
	}
	requestAuth := schema.RequestAuth{
		IdType:    decodedToken.IssuerType,
		Id:        decodedToken.IssuerId,
		ServiceId: serviceId,
	}

	determination := dataItem.AuthorizeAccess(model.DataOperation(authzRequest.Operation), &requestAuth, dataSchema.ServiceId, authzRequest.Depth)
	logger.Debugf("Authorization for %s on %s: %s.", authzRequest.Operation, authzRequest.Class, determination)

	switch determination {
	case model.Allow:
		c.JSON(http.StatusOK, model.Decision{Decision: true, Reason: fmt.Sprintf("Operation %s on %s is permitted.", authzRequest.Operation, authzRequest.Class)})
	case model.Deny:
		c.JSON(http.StatusOK, model.Decision{Decision: false, Reason: fmt.Sprintf("Operation %s on %s is denied.", authzRequest.Operation, authzRequest.Class)})
	default:
		c.JSON(http.StatusOK, model.Decision{Decision: false, Reason: fmt.Sprintf("No access rule made a determination for %s on %s.", authzRequest.Operation, authzRequest.Class)})
	}
}
