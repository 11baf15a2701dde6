package syncwire

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/vaultmesh/vaultmesh/internal/validation"
)

// Validate checks the challenge request against spec §6.1's wire contract.
func (r *ChallengeRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Username,
			validation.Required,
			customValidation.NotBlank,
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the authenticate request against spec §6.1's wire contract.
func (r *AuthenticateRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Challenge,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.SignatureB64,
			validation.Required,
			customValidation.Base64,
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the findNewEntries request.
func (r *FindNewEntriesRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.HaveIDs,
			validation.Each(customValidation.EntryID),
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the findNewEntriesForDoc request.
func (r *FindNewEntriesForDocRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.HaveIDs,
			validation.Each(customValidation.EntryID),
		),
		validation.Field(&r.DocID,
			validation.Required,
			customValidation.NotBlank,
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the getEntries request.
func (r *GetEntriesRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.IDs,
			validation.Required,
			validation.Each(customValidation.EntryID),
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the putEntries request, cascading into each entry's own
// wire-form validation.
func (r *PutEntriesRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.Entries,
			validation.Required,
			validation.Each(validation.By(validateEntryDTO)),
		),
	)
	return customValidation.WrapValidationError(err)
}

func validateEntryDTO(value interface{}) error {
	dto, ok := value.(EntryDTO)
	if !ok {
		return validation.NewError("validation_entry_dto_type", "must be an entry")
	}
	return dto.Validate()
}

// Validate checks a single wire entry against spec §3's id format and the
// presence of its signed, content-addressed fields.
func (d *EntryDTO) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.ID,
			validation.Required,
			customValidation.EntryID,
		),
		validation.Field(&d.EntryType,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&d.DocID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&d.DependencyIDs,
			validation.Each(customValidation.EntryID),
		),
		validation.Field(&d.CreatedByPublicKey,
			validation.Required,
			customValidation.Base64,
		),
		validation.Field(&d.Signature,
			validation.Required,
			customValidation.Base64,
		),
		validation.Field(&d.ContentHash,
			validation.Required,
			customValidation.Base64,
		),
		validation.Field(&d.EncryptedData,
			customValidation.Base64,
		),
		validation.Field(&d.Nonce,
			validation.Required,
			customValidation.Base64,
		),
	)
}

// Validate checks the hasEntries request.
func (r *HasEntriesRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.IDs,
			validation.Required,
			validation.Each(customValidation.EntryID),
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the getAllIds request.
func (r *GetAllIDsRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
	)
	return customValidation.WrapValidationError(err)
}

// Validate checks the resolveDependencies request.
func (r *ResolveDependenciesRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.DBID,
			validation.Required,
			customValidation.NotBlank,
		),
		validation.Field(&r.StartID,
			validation.Required,
			customValidation.EntryID,
		),
	)
	return customValidation.WrapValidationError(err)
}
